package kv

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/cmd/util"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the document for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := util.GetCallOverride()
			if err != nil {
				return err
			}
			doc, err := clus.Get(args[0], ov)
			if err != nil {
				return err
			}
			fmt.Println(string(doc.Content))
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Stores a document regardless of whether the key exists",
		Args:  cobra.ExactArgs(2),
		RunE: runStore("set", func(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
			return clus.Set(key, value, ov)
		}),
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Stores a document, failing if the key already exists",
		Args:  cobra.ExactArgs(2),
		RunE: runStore("insert", func(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
			return clus.Insert(key, value, ov)
		}),
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Stores a document, failing if the key is missing",
		Args:  cobra.ExactArgs(2),
		RunE: runStore("replace", func(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
			return clus.Replace(key, value, ov)
		}),
	}
	upsertCmd = &cobra.Command{
		Use:   "upsert [key] [value]",
		Short: "Stores a document, inserting or replacing as needed",
		Args:  cobra.ExactArgs(2),
		RunE: runStore("upsert", func(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
			return clus.Upsert(key, value, ov)
		}),
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := util.GetCallOverride()
			if err != nil {
				return err
			}
			result, err := clus.Delete(args[0], ov)
			if err != nil {
				return err
			}
			fmt.Printf("delete successfully (cas %d)\n", result.Cas)
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [key]",
		Short: "Checks if a document exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := util.GetCallOverride()
			if err != nil {
				return err
			}
			found, err := clus.Exists(args[0], ov)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	lookupCmd = &cobra.Command{
		Use:   "lookup [key] [spec...]",
		Short: "Reads paths inside a document",
		Long: "Reads one or more paths inside a document without fetching the whole " +
			"document. Each spec is OP:PATH where OP is get, exists or count; a bare " +
			"PATH means get.\n\nExample: cbx kv lookup user:1 name exists:email count:tags",
		Args: cobra.MinimumNArgs(2),
		RunE: runLookup,
	}
	mutateCmd = &cobra.Command{
		Use:   "mutate [key] [spec...]",
		Short: "Mutates paths inside a document atomically",
		Long: "Applies one or more path-level mutations to a document in a single " +
			"atomic step. Each spec is OP:PATH=VALUE where OP is upsert, insert, " +
			"replace, array_append, array_prepend or increment; remove:PATH takes " +
			"no value.\n\nExample: cbx kv mutate user:1 upsert:name='\"bob\"' increment:visits=1 remove:stale",
		Args: cobra.MinimumNArgs(2),
		RunE: runMutate,
	}
)

// storeOp is the shared shape of the four full-document writes.
type storeOp = func(string, any, *options.Override) (*cluster.MutationResult, error)

// --------------------------------------------------------------------------
// Run Helpers
// --------------------------------------------------------------------------

// runStore builds the shared RunE of the four full-document writes.
func runStore(verb string, op storeOp) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ov, err := util.GetCallOverride()
		if err != nil {
			return err
		}
		result, err := op(args[0], parseValue(args[1]), ov)
		if err != nil {
			return err
		}
		fmt.Printf("%s successfully (cas %d)\n", verb, result.Cas)
		return nil
	}
}

func runLookup(cmd *cobra.Command, args []string) error {
	ov, err := util.GetCallOverride()
	if err != nil {
		return err
	}

	specs := make([]cluster.LookupSpec, 0, len(args)-1)
	for _, arg := range args[1:] {
		spec, err := parseLookupSpec(arg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	result, err := clus.LookupIn(args[0], specs, ov)
	if err != nil {
		return err
	}
	for i, field := range result.Fields {
		if !field.Exists {
			fmt.Printf("%-3d %-30s (missing)\n", i, field.Path)
			continue
		}
		fmt.Printf("%-3d %-30s %s\n", i, field.Path, string(field.Value))
	}
	return nil
}

func runMutate(cmd *cobra.Command, args []string) error {
	ov, err := util.GetCallOverride()
	if err != nil {
		return err
	}

	specs := make([]cluster.MutateSpec, 0, len(args)-1)
	for _, arg := range args[1:] {
		spec, err := parseMutateSpec(arg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	result, err := clus.MutateIn(args[0], specs, ov)
	if err != nil {
		return err
	}
	fmt.Printf("mutate successfully (cas %d)\n", result.Cas)
	for _, field := range result.Fields {
		if field.Value != nil {
			fmt.Printf("  %-30s %s\n", field.Path, string(field.Value))
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Argument Parsing
// --------------------------------------------------------------------------

// parseValue decodes a document value given on the command line. Valid JSON
// passes through as structured data, everything else becomes a string.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}

// parseLookupSpec parses OP:PATH, defaulting the operation to get.
func parseLookupSpec(arg string) (cluster.LookupSpec, error) {
	op := cluster.LookupGet
	path := arg
	if prefix, rest, found := strings.Cut(arg, ":"); found {
		parsed, err := cluster.ParseLookupOp(prefix)
		if err != nil {
			return cluster.LookupSpec{}, fmt.Errorf("spec %q: %w", arg, err)
		}
		op = parsed
		path = rest
	}
	return cluster.LookupSpec{Op: op, Path: path}, nil
}

// parseMutateSpec parses OP:PATH=VALUE (remove:PATH has no value).
func parseMutateSpec(arg string) (cluster.MutateSpec, error) {
	prefix, rest, found := strings.Cut(arg, ":")
	if !found {
		return cluster.MutateSpec{}, fmt.Errorf("spec %q: expected OP:PATH=VALUE", arg)
	}
	op, err := cluster.ParseMutateOp(prefix)
	if err != nil {
		return cluster.MutateSpec{}, fmt.Errorf("spec %q: %w", arg, err)
	}

	if op == cluster.MutateRemove {
		return cluster.MutateSpec{Op: op, Path: rest}, nil
	}

	path, value, found := strings.Cut(rest, "=")
	if !found {
		return cluster.MutateSpec{}, fmt.Errorf("spec %q: operation %s needs a value (OP:PATH=VALUE)", arg, op)
	}
	return cluster.MutateSpec{Op: op, Path: path, Value: parseValue(value)}, nil
}
