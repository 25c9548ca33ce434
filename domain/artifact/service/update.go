// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"reflect"
	"strconv"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/core/semversion"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/artifacttype"
	"github.com/go-glare/glare/internal/jsonpatch"
)

// Update applies a JSON-Patch to the artifact. Status and visibility
// changes must stand alone in the patch; re-applying the current value
// is a no-op. Attribute changes honour the mutation matrix, and the
// whole update is persisted under the optimistic lock token.
func (s *Service) Update(ctx context.Context, who identity.Identity, typeName, id string, ops []jsonpatch.Operation) (*artifact.Artifact, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}

	proposed := af.Copy()
	touched := set.NewStrings()
	for _, op := range ops {
		if err := applyOp(d, proposed, op); err != nil {
			return nil, errors.Trace(err)
		}
		touched.Add(op.Path[0])
	}

	changed := changedAttributes(af, proposed, touched)
	if changed.IsEmpty() {
		// Identical values were re-applied; nothing to persist.
		return af, nil
	}

	event := artifact.EventUpdate
	switch {
	case changed.Contains("status"):
		if changed.Size() > 1 {
			return nil, badRequestf("status cannot change together with other attributes")
		}
		event, err = s.checkTransition(who, d, af, proposed)
		if err != nil {
			return nil, errors.Trace(err)
		}
	case changed.Contains("visibility"):
		if changed.Size() > 1 {
			return nil, badRequestf("visibility cannot change together with other attributes")
		}
		if err := s.checkPublish(who, af, proposed); err != nil {
			return nil, errors.Trace(err)
		}
		event = artifact.EventPublish
	default:
		for _, name := range changed.SortedValues() {
			attr, _ := d.Attribute(name)
			if err := s.authorizeWrite(who, af, attr); err != nil {
				return nil, errors.Trace(err)
			}
		}
		if err := s.checkDependencies(ctx, who, d, proposed.Properties); err != nil {
			return nil, errors.Trace(err)
		}
	}

	proposed.UpdatedAt = s.clock.Now().UTC()
	if err := s.st.Update(ctx, proposed, customTouched(touched)); err != nil {
		if errors.Is(err, arterrors.StaleWrite) {
			return nil, errors.Annotatef(arterrors.Conflict, "artifact %q was modified concurrently", id)
		}
		return nil, errors.Trace(err)
	}
	s.emit(who, event, d, proposed)
	return proposed, nil
}

// customTouched filters the touched attribute names down to the ones
// stored in the property table.
func customTouched(touched set.Strings) []string {
	var out []string
	for _, name := range touched.SortedValues() {
		if !artifacttype.Intrinsic(name) {
			out = append(out, name)
		}
	}
	return out
}

// checkTransition validates and finalizes a status change, returning
// the event to emit.
func (s *Service) checkTransition(who identity.Identity, d *artifacttype.Descriptor, af, proposed *artifact.Artifact) (string, error) {
	if who.Anonymous {
		return "", forbiddenf("anonymous users cannot modify artifacts")
	}
	next := proposed.Status
	if next == artifact.StatusDeleted {
		return "", badRequestf("artifacts are deleted with the DELETE method, not a status change")
	}
	if !af.Status.CanTransition(next) {
		return "", badRequestf("cannot change status from %q to %q", af.Status, next)
	}
	admin := who.IsAdmin()
	switch {
	case af.Status == artifact.StatusQueued && next == artifact.StatusActive:
		if !admin && !who.OwnerOf(af.Owner) {
			return "", forbiddenf("artifact belongs to another tenant")
		}
		if err := checkActivatable(d, proposed); err != nil {
			return "", errors.Trace(err)
		}
		if proposed.ActivatedAt == nil {
			now := s.clock.Now().UTC()
			proposed.ActivatedAt = &now
		}
		return artifact.EventActivate, nil
	case af.Status == artifact.StatusActive && next == artifact.StatusDeactivated:
		if !admin {
			return "", forbiddenf("only administrators can deactivate artifacts")
		}
		return artifact.EventDeactivate, nil
	case af.Status == artifact.StatusDeactivated && next == artifact.StatusActive:
		if !admin {
			return "", forbiddenf("only administrators can reactivate artifacts")
		}
		return artifact.EventReactivate, nil
	}
	return "", badRequestf("cannot change status from %q to %q", af.Status, next)
}

// checkActivatable verifies every required_on_activate attribute holds
// a value and required blob slots are committed.
func checkActivatable(d *artifacttype.Descriptor, af *artifact.Artifact) error {
	for _, attr := range d.Attributes() {
		if !attr.RequiredOnActivate || attr.System {
			continue
		}
		switch attr.Name {
		case "name", "version", "visibility":
			continue
		}
		switch attr.Kind {
		case artifacttype.KindBlob:
			if !af.Blobs[attr.Name].Active() {
				return badRequestf("blob %q must be uploaded before activation", attr.Name)
			}
		case artifacttype.KindBlobDict:
			var active bool
			for _, b := range af.BlobDicts[attr.Name] {
				if b.Active() {
					active = true
					break
				}
			}
			if !active {
				return badRequestf("blob %q must be uploaded before activation", attr.Name)
			}
		default:
			if af.Properties[attr.Name] == nil {
				return badRequestf("attribute %q must be set before activation", attr.Name)
			}
		}
	}
	return nil
}

// checkPublish validates a visibility change: private to public, admin
// only, on an active artifact. The public uniqueness re-check happens
// in the persistence transaction.
func (s *Service) checkPublish(who identity.Identity, af, proposed *artifact.Artifact) error {
	if who.Anonymous {
		return forbiddenf("anonymous users cannot modify artifacts")
	}
	if proposed.Visibility != artifact.VisibilityPublic {
		return badRequestf("visibility can only change from private to public")
	}
	if !who.IsAdmin() {
		return forbiddenf("only administrators can publish artifacts")
	}
	if af.Status != artifact.StatusActive {
		return badRequestf("only active artifacts can be published")
	}
	return nil
}

// changedAttributes compares the touched attributes of the current and
// proposed records and returns the names whose values actually differ.
func changedAttributes(af, proposed *artifact.Artifact, touched set.Strings) set.Strings {
	changed := set.NewStrings()
	for _, name := range touched.Values() {
		var before, after any
		switch name {
		case "name":
			before, after = af.Name, proposed.Name
		case "version":
			before, after = af.Version, proposed.Version
		case "description":
			before, after = af.Description, proposed.Description
		case "status":
			before, after = af.Status, proposed.Status
		case "visibility":
			before, after = af.Visibility, proposed.Visibility
		default:
			before, after = af.Properties[name], proposed.Properties[name]
		}
		if !reflect.DeepEqual(before, after) {
			changed.Add(name)
		}
	}
	return changed
}

// applyOp mutates the proposed record with one patch operation.
func applyOp(d *artifacttype.Descriptor, proposed *artifact.Artifact, op jsonpatch.Operation) error {
	name := op.Path[0]
	attr, ok := d.Attribute(name)
	if !ok {
		return badRequestf("unknown attribute %q", name)
	}
	if name == "tags" {
		return badRequestf("tags are modified through the tag endpoints")
	}
	if attr.Kind.Blob() {
		return badRequestf("attribute %q is a blob and cannot be patched", name)
	}
	// Status is declared system so create and direct writes reject it,
	// but a standalone status patch is the transition request itself:
	// let it through to the transition checks.
	if attr.System && name != "status" {
		return forbiddenf("attribute %q is read only", name)
	}

	switch len(op.Path) {
	case 1:
		return applyWhole(d, proposed, attr, op)
	case 2:
		return applyElement(proposed, attr, op)
	}
	return badRequestf("path /%s is too deep", name)
}

// applyWhole sets, replaces or removes an entire attribute value.
func applyWhole(d *artifacttype.Descriptor, proposed *artifact.Artifact, attr *artifacttype.Attribute, op jsonpatch.Operation) error {
	var raw any
	if op.Op != jsonpatch.OpRemove {
		raw = op.Value
	}
	value, err := attr.Coerce(raw)
	if err != nil {
		return badRequestf("%v", err)
	}
	if artifacttype.Intrinsic(attr.Name) {
		return errors.Trace(setProposedIntrinsic(proposed, attr.Name, value))
	}
	if value == nil {
		delete(proposed.Properties, attr.Name)
		return nil
	}
	proposed.Properties[attr.Name] = value
	return nil
}

func setProposedIntrinsic(proposed *artifact.Artifact, name string, value any) error {
	switch name {
	case "name":
		str, _ := value.(string)
		if str == "" {
			return badRequestf("name must not be empty")
		}
		proposed.Name = str
	case "version":
		str, _ := value.(string)
		version, err := semversion.Parse(str)
		if err != nil {
			return badRequestf("version %q is not a valid version", str)
		}
		proposed.Version = version.String()
	case "description":
		str, _ := value.(string)
		proposed.Description = str
	case "status":
		str, _ := value.(string)
		proposed.Status = artifact.Status(str)
	case "visibility":
		str, _ := value.(string)
		proposed.Visibility = artifact.Visibility(str)
	default:
		return badRequestf("attribute %q cannot be patched", name)
	}
	return nil
}

// applyElement mutates one element of a list or dict attribute and
// re-runs the attribute's validators over the result.
func applyElement(proposed *artifact.Artifact, attr *artifacttype.Attribute, op jsonpatch.Operation) error {
	if attr.Kind != artifacttype.KindList && attr.Kind != artifacttype.KindDict {
		return badRequestf("attribute %q has no elements", attr.Name)
	}
	current := proposed.Properties[attr.Name]
	token := op.Path[1]

	var element any
	if op.Op != jsonpatch.OpRemove {
		coerced, err := attr.CoerceElement(op.Value)
		if err != nil {
			return badRequestf("%v", err)
		}
		element = coerced
	}

	var next any
	var err error
	if attr.Kind == artifacttype.KindDict {
		next, err = applyDictElement(attr, current, token, op.Op, element)
	} else {
		next, err = applyListElement(attr, current, token, op.Op, element)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if err := attr.Check(next); err != nil {
		return badRequestf("attribute %q: %v", attr.Name, err)
	}
	proposed.Properties[attr.Name] = next
	return nil
}

func applyDictElement(attr *artifacttype.Attribute, current any, key, opName string, element any) (any, error) {
	m, _ := current.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	_, exists := out[key]
	switch opName {
	case jsonpatch.OpAdd:
		out[key] = element
	case jsonpatch.OpReplace:
		if !exists {
			return nil, badRequestf("attribute %q has no key %q", attr.Name, key)
		}
		out[key] = element
	case jsonpatch.OpRemove:
		if !exists {
			return nil, badRequestf("attribute %q has no key %q", attr.Name, key)
		}
		delete(out, key)
	}
	return out, nil
}

func applyListElement(attr *artifacttype.Attribute, current any, token, opName string, element any) (any, error) {
	list, _ := current.([]any)
	out := append([]any(nil), list...)

	if token == "-" {
		if opName != jsonpatch.OpAdd {
			return nil, badRequestf("attribute %q: %q is only valid for add", attr.Name, token)
		}
		return append(out, element), nil
	}
	index, err := strconv.Atoi(token)
	if err != nil || index < 0 {
		return nil, badRequestf("attribute %q: invalid list index %q", attr.Name, token)
	}
	switch opName {
	case jsonpatch.OpAdd:
		if index > len(out) {
			return nil, badRequestf("attribute %q: list index %d out of range", attr.Name, index)
		}
		out = append(out, nil)
		copy(out[index+1:], out[index:])
		out[index] = element
	case jsonpatch.OpReplace:
		if index >= len(out) {
			return nil, badRequestf("attribute %q: list index %d out of range", attr.Name, index)
		}
		out[index] = element
	case jsonpatch.OpRemove:
		if index >= len(out) {
			return nil, badRequestf("attribute %q: list index %d out of range", attr.Name, index)
		}
		out = append(out[:index], out[index+1:]...)
	}
	return out, nil
}
