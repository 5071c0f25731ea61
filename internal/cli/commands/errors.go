package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/populate/internal/cli/ui"
	"github.com/conduit-lang/populate/internal/orm/populate"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// displayError carries a pre-rendered explanation of err.
type displayError struct {
	err  error
	text string
}

func (e *displayError) Error() string { return e.err.Error() }
func (e *displayError) Unwrap() error { return e.err }

func configError(err error) error {
	return &displayError{err: err, text: ui.ConfigError(err.Error(), color.NoColor)}
}

// explain decorates unknown resources and unresolvable relation paths with
// suggestions drawn from the registry. Other errors pass through.
func explain(reg *schema.Registry, root string, err error) error {
	if err == nil {
		return nil
	}

	if _, ok := reg.Get(root); !ok {
		return &displayError{
			err:  err,
			text: ui.ResourceNotFoundError(root, ui.Suggest(root, reg.List(), 3), color.NoColor),
		}
	}

	var pathErr *populate.PathError
	if !errors.As(err, &pathErr) {
		return err
	}
	owner, segment := failingSegment(reg, pathErr.Root, pathErr.Path)
	if owner == nil {
		return err
	}
	return &displayError{
		err:  err,
		text: ui.RelationPathError(pathErr.Path, owner.Name, segment, ui.Suggest(segment, relationNames(owner), 3), color.NoColor),
	}
}

// failingSegment returns the first segment of path that does not name a
// relationship, with the entity it was looked up on.
func failingSegment(reg *schema.Registry, root, path string) (*schema.ResourceSchema, string) {
	owner, ok := reg.Get(root)
	if !ok {
		return nil, ""
	}
	for _, seg := range strings.Split(path, ".") {
		rel, ok := owner.Relationships[seg]
		if !ok {
			return owner, seg
		}
		if owner, ok = reg.Get(rel.TargetResource); !ok {
			return nil, ""
		}
	}
	return nil, ""
}

func relationNames(r *schema.ResourceSchema) []string {
	names := make([]string, 0, len(r.Relationships))
	for name := range r.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reportError prints err to w, preferring a pre-rendered explanation.
func reportError(w io.Writer, err error) {
	var de *displayError
	if errors.As(err, &de) {
		fmt.Fprint(w, de.text)
		return
	}
	errorColor := color.New(color.FgRed, color.Bold)
	errorColor.Fprintf(w, "Error: %v\n", err)
}
