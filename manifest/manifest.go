package manifest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/model"
)

// Store is the narrow persistence boundary the Manifest Library needs.
// store.Store satisfies this; defining it here (rather than importing
// store) keeps manifest free of a dependency on the concrete persistence
// package.
type Store interface {
	NamespaceExists(ctx context.Context, namespace uuid.UUID) (bool, error)
	InsertManifest(ctx context.Context, m *model.Manifest) error
	GetManifest(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind, name string, version int) (*model.Manifest, error)
	// GetLatestManifest returns the newest version; name may be empty to
	// mean "the newest manifest of that kind in the namespace" (§4.1 get).
	GetLatestManifest(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind, name string) (*model.Manifest, error)
	NextManifestVersion(ctx context.Context, namespace uuid.UUID, name string) (int, error)
	// ListManifests returns every manifest in namespace (optionally filtered
	// by kind), for the HTTP API's list operation (§4.1, §6).
	ListManifests(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind) ([]*model.Manifest, error)
}

// Library implements the Manifest Library operations (§4.1).
type Library struct {
	Store Store
}

func NewLibrary(store Store) *Library {
	return &Library{Store: store}
}

// Create implements create(kind, name, namespace?, spec) → Manifest v1.
// namespace == uuid.Nil means "use the library namespace".
func (l *Library) Create(ctx context.Context, kind model.ManifestKind, name string, namespace uuid.UUID, spec map[string]interface{}) (*model.Manifest, error) {
	if kind == model.ManifestCampaign {
		return nil, cmerrors.New(cmerrors.KindConflict, "manifest kind %q is reserved for campaigns", kind)
	}
	if namespace == uuid.Nil {
		namespace = model.RootNamespace
	} else {
		exists, err := l.Store.NamespaceExists(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, cmerrors.New(cmerrors.KindUnknownNamespace, "namespace %s does not exist", namespace)
		}
	}

	m := &model.Manifest{
		ID:        uuid.New(),
		Name:      name,
		Namespace: namespace,
		Version:   1,
		Kind:      kind,
		Spec:      spec,
	}
	if err := l.Store.InsertManifest(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get implements get(namespace, kind, name?, version?) → Manifest |
// NotFound.
func (l *Library) Get(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind, name string, version int) (*model.Manifest, error) {
	if version > 0 {
		m, err := l.Store.GetManifest(ctx, namespace, kind, name, version)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, cmerrors.New(cmerrors.KindNotFound, "manifest %s/%s v%d not found", kind, name, version)
		}
		return m, nil
	}
	m, err := l.Store.GetLatestManifest(ctx, namespace, kind, name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, cmerrors.New(cmerrors.KindNotFound, "manifest %s/%s not found", kind, name)
	}
	return m, nil
}

// PatchMode selects merge-patch or json-patch semantics.
type PatchMode string

const (
	PatchModeMerge     PatchMode = "merge"
	PatchModeJSONPatch PatchMode = "json-patch"
)

// Patch implements patch(id, operations, mode) → Manifest v+1.
func (l *Library) Patch(ctx context.Context, current *model.Manifest, mode PatchMode, mergeDoc map[string]interface{}, jsonOps []JSONPatchOp) (*model.Manifest, error) {
	var newSpec map[string]interface{}
	switch mode {
	case PatchModeMerge:
		newSpec = MergePatch(current.Spec, mergeDoc)
	case PatchModeJSONPatch:
		var err error
		newSpec, err = ApplyJSONPatch(current.Spec, jsonOps)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("manifest: unknown patch mode %q", mode)
	}

	nextVersion, err := l.Store.NextManifestVersion(ctx, current.Namespace, current.Name)
	if err != nil {
		return nil, err
	}
	m := &model.Manifest{
		ID:        uuid.New(),
		Name:      current.Name,
		Namespace: current.Namespace,
		Version:   nextVersion,
		Kind:      current.Kind,
		Metadata:  current.Metadata,
		Spec:      newSpec,
	}
	if err := l.Store.InsertManifest(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Copy implements copy(id, to_namespace, to_name?) → Manifest v1-in-target.
func (l *Library) Copy(ctx context.Context, src *model.Manifest, toNamespace uuid.UUID, toName string) (*model.Manifest, error) {
	if toName == "" {
		toName = src.Name
	}
	exists, err := l.Store.NamespaceExists(ctx, toNamespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, cmerrors.New(cmerrors.KindUnknownNamespace, "namespace %s does not exist", toNamespace)
	}
	m := &model.Manifest{
		ID:        uuid.New(),
		Name:      toName,
		Namespace: toNamespace,
		Version:   1,
		Kind:      src.Kind,
		Metadata:  src.Metadata,
		Spec:      deepCopyMap(src.Spec),
	}
	if err := l.Store.InsertManifest(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
