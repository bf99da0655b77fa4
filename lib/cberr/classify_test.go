package cberr

import (
	"math/rand"
	"testing"
)

func TestClassifyKnownCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected Reason
	}{
		{"modern document not found", "DocumentNotFound", ReasonDocumentNotFound},
		{"legacy document not found", "KEY_ENOENT", ReasonDocumentNotFound},
		{"modern document exists", "DocumentExists", ReasonDocumentExists},
		{"legacy document exists", "KEY_EEXISTS", ReasonDocumentExists},
		{"legacy locked", "LOCKED", ReasonDocumentLocked},
		{"modern timeout", "Timeout", ReasonTimeout},
		{"legacy timeout", "ETIMEDOUT", ReasonTimeout},
		{"ambiguous timeout", "AmbiguousTimeout", ReasonAmbiguousTimeout},
		{"modern auth", "AuthenticationFailure", ReasonAuthenticationFailure},
		{"legacy auth", "AUTH_ERROR", ReasonAuthenticationFailure},
		{"legacy tmpfail", "ETMPFAIL", ReasonTemporaryFailure},
		{"legacy out of memory", "ENOMEM", ReasonOutOfMemory},
		{"modern out of memory", "ServerOutOfMemory", ReasonOutOfMemory},
		{"internal", "InternalServerFailure", ReasonInternalError},
		{"planning failure", "PlanningFailure", ReasonPlanningFailure},
		{"index not found", "IndexNotFound", ReasonIndexNotFound},
		{"legacy query failed", "QUERY_FAILED", ReasonQueryFailure},
		{"modern query error", "QueryError", ReasonQueryFailure},
		{"durability ambiguous", "DurabilityAmbiguous", ReasonDurabilityAmbiguous},
		{"sync write in progress", "SyncWriteInProgress", ReasonSyncWriteInProgress},
		{"durable write alias", "DurableWriteInProgress", ReasonSyncWriteInProgress},
		{"subdoc path not found", "SUBDOC_PATH_NOT_FOUND", ReasonPathNotFound},
		{"modern path not found", "PathNotFound", ReasonPathNotFound},
		{"legacy value too large", "E2BIG", ReasonValueTooLarge},
		{"legacy delta", "DELTA_BADVAL", ReasonDeltaInvalid},
		{"legacy invalid argument", "EINVAL", ReasonInvalidArgument},
		{"unknown collection", "UNKNOWN_COLLECTION", ReasonCollectionNotFound},
		{"cas mismatch", "CasMismatch", ReasonCasMismatch},
		{"transaction expired", "TransactionExpired", ReasonTransactionExpired},
		{"bridge reason name survives", "server_exited", ReasonServerExited},
		{"empty code", "", ReasonUnknownError},
		{"garbage code", "NOT_A_REAL_CODE_42", ReasonUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.code); got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestClassifyCaseAndSeparatorInsensitive(t *testing.T) {
	// Pairs that must classify identically regardless of casing style.
	pairs := [][2]string{
		{"DocumentNotFound", "DOCUMENT_NOT_FOUND"},
		{"DocumentExists", "DOCUMENT_EXISTS"},
		{"TemporaryFailure", "TEMPORARY_FAILURE"},
		{"DurabilityImpossible", "durability-impossible"},
		{"PathMismatch", "path mismatch"},
	}

	for _, pair := range pairs {
		a, b := Classify(pair[0]), Classify(pair[1])
		if a != b {
			t.Errorf("Classify(%q) = %v but Classify(%q) = %v, want identical", pair[0], a, pair[1], b)
		}
		if a == ReasonUnknownError {
			t.Errorf("Classify(%q) = unknown_error, want a recognized reason", pair[0])
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	// Classification must never panic, whatever the input looks like.
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-. !{}"
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		n := 1 + rng.Intn(32)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		reason := Classify(string(buf))
		if reason.String() == "" {
			t.Fatalf("Classify(%q) produced a reason without a name", buf)
		}
	}
}

func TestReasonJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		reason   Reason
		expected string
	}{
		{"document not found", ReasonDocumentNotFound, `"document_not_found"`},
		{"server exited", ReasonServerExited, `"server_exited"`},
		{"unknown", ReasonUnknownError, `"unknown_error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.reason.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("MarshalJSON() = %s, want %s", data, tt.expected)
			}

			var back Reason
			if err := back.UnmarshalJSON(data); err != nil {
				t.Fatalf("UnmarshalJSON() error = %v", err)
			}
			if back != tt.reason {
				t.Errorf("round trip = %v, want %v", back, tt.reason)
			}
		})
	}

	// Unrecognized names fall back to unknown_error, mirroring Classify.
	var r Reason
	if err := r.UnmarshalJSON([]byte(`"definitely_not_a_reason"`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if r != ReasonUnknownError {
		t.Errorf("UnmarshalJSON(unknown name) = %v, want %v", r, ReasonUnknownError)
	}
}
