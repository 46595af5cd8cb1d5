package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/watchpatch/internal/registry"
)

// CompileAll compiles every collection under root's "collection" field,
// in label order. Collections that fail are reported and skipped.
func CompileAll(root cue.Value) ([]*registry.Collection, []error) {
	collsVal := root.LookupPath(cue.ParsePath("collection"))
	if !collsVal.Exists() {
		return nil, nil
	}

	iter, err := collsVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		colls []*registry.Collection
		errs  []error
	)
	for iter.Next() {
		coll, err := CompileCollection(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", iter.Selector().Unquoted(), err))
			continue
		}
		colls = append(colls, coll)
	}
	sort.Slice(colls, func(i, j int) bool { return colls[i].Name < colls[j].Name })
	return colls, errs
}

// BuildRegistry registers colls after running Validate. Warnings do not
// block registration; the first error does.
func BuildRegistry(colls []*registry.Collection) (*registry.Registry, error) {
	if errs := Errors(Validate(colls)); len(errs) > 0 {
		return nil, errs[0]
	}
	reg := registry.New()
	for _, c := range colls {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// CompileFiles compiles standalone CUE files, unifies them and builds a
// registry from the collections they declare.
func CompileFiles(paths ...string) (*registry.Registry, error) {
	root, err := UnifyFiles(cuecontext.New(), paths...)
	if err != nil {
		return nil, err
	}

	colls, errs := CompileAll(root)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if len(colls) == 0 {
		return nil, fmt.Errorf("no collections declared in %v", paths)
	}
	return BuildRegistry(colls)
}

// UnifyFiles compiles each file in ctx and unifies them into one value.
// Files may share a package clause; imports are not resolved.
func UnifyFiles(ctx *cue.Context, paths ...string) (cue.Value, error) {
	root := ctx.CompileString("{}")

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("read spec %s: %w", path, err)
		}
		v := ctx.CompileBytes(data, cue.Filename(filepath.Base(path)))
		if err := v.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		root = root.Unify(v)
	}
	if err := root.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return root, nil
}
