package cberr

import "strings"

// --------------------------------------------------------------------------
// Provider code classification
// --------------------------------------------------------------------------

// providerCodes lists the error code vocabulary each reason is known under.
// Both the modern PascalCase codes and the legacy UPPER_SNAKE forms appear;
// classification is case- and separator-insensitive so spelling variants of
// the same word collapse automatically (normalizeCode). Codes that only
// differ in separators/case from the reason's own name are not repeated.
var providerCodes = map[Reason][]string{
	ReasonDocumentNotFound: {"KEY_ENOENT", "KeyNotFound"},
	ReasonDocumentExists:   {"KEY_EEXISTS", "KeyExists"},
	ReasonDocumentLocked:   {"LOCKED", "DocumentLockedError"},
	ReasonDocumentNotJSON:  {"DOC_NOT_JSON", "SUBDOC_DOC_NOT_JSON"},
	ReasonValueTooLarge:    {"E2BIG", "ValueTooBig"},
	ReasonCasMismatch:      {"CAS_MISMATCH"},

	ReasonConnectionTimeout:   {"CONNECT_TIMEOUT"},
	ReasonNetworkError:        {"NetworkFailure"},
	ReasonBucketNotFound:      {"BucketMissing"},
	ReasonCollectionNotFound:  {"UNKNOWN_COLLECTION"},
	ReasonServiceNotAvailable: {"ServiceNotFound"},

	ReasonAuthenticationFailure: {"AUTH_ERROR", "AUTHENTICATION_ERROR", "EAUTH", "InvalidCredentials"},

	ReasonTimeout: {"ETIMEDOUT", "RequestTimeout", "OperationTimeout"},

	ReasonTemporaryFailure: {"ETMPFAIL", "TemporaryFailureError"},
	ReasonOutOfMemory:      {"ENOMEM", "ServerOutOfMemory"},
	ReasonInternalError:    {"EINTERNAL", "InternalServerFailure", "InternalServerError"},

	ReasonPlanningFailure: {"PreparedStatementFailure"},
	ReasonIndexNotFound:   {"IndexMissing"},
	ReasonQueryCancelled:  {"RequestCanceled", "RequestCancelled"},
	ReasonQueryFailure:    {"QUERY_FAILED", "QueryError", "QueryException"},
	ReasonParsingFailure:  {"ParseError"},

	ReasonSyncWriteInProgress:         {"DurableWriteInProgress"},
	ReasonSyncWriteReCommitInProgress: {"DurableWriteReCommitInProgress"},

	ReasonPathNotFound: {"SUBDOC_PATH_NOT_FOUND", "SUBDOC_PATH_ENOENT", "PathMissing"},
	ReasonPathExists:   {"SUBDOC_PATH_EXISTS", "SUBDOC_PATH_EEXISTS"},
	ReasonPathMismatch: {"SUBDOC_PATH_MISMATCH"},
	ReasonPathInvalid:  {"SUBDOC_PATH_INVALID", "SUBDOC_PATH_EINVAL"},
	ReasonPathTooDeep:  {"SUBDOC_PATH_E2DEEP"},
	ReasonValueTooDeep: {"SUBDOC_VALUE_E2DEEP"},
	ReasonDeltaInvalid: {"DELTA_BADVAL", "NumberTooBig"},

	ReasonEncodingFailure: {"TRANSCODING_FAILURE", "EncodingError"},
	ReasonDecodingFailure: {"DecodingError"},
	ReasonInvalidArgument: {"EINVAL", "InvalidArguments"},

	ReasonTransactionExpired: {"TransactionExpiredError"},
}

// codeIndex maps every normalized provider code to its reason. Built once;
// each reason's own snake_case name classifies to itself as well, so bridge
// reasons echoed back over the wire survive a classify round trip.
var codeIndex = func() map[string]Reason {
	m := make(map[string]Reason, 3*len(reasonTable))
	for reason, info := range reasonTable {
		m[normalizeCode(info.name)] = reason
	}
	for reason, codes := range providerCodes {
		for _, code := range codes {
			m[normalizeCode(code)] = reason
		}
	}
	return m
}()

// normalizeCode lowercases ASCII letters and strips every non-alphanumeric
// rune, making "DocumentNotFound", "DOCUMENT_NOT_FOUND" and
// "document-not-found" indistinguishable.
func normalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, code)
}

// Classify maps a provider error code to its Reason. The function is total:
// any unrecognized code yields ReasonUnknownError, it never fails.
func Classify(code string) Reason {
	if reason, ok := codeIndex[normalizeCode(code)]; ok {
		return reason
	}
	return ReasonUnknownError
}
