package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/idis-platform/idis/pkg/idiserr"
)

const (
	promptFileName   = "prompt.md"
	metadataFileName = "metadata.json"
)

// metadataSchema is the contract every metadata.json must satisfy
// before any of its fields are trusted. It closes over its properties
// except for forward-compatible extras, which the Metadata struct
// ignores anyway.
const metadataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["prompt_id", "version", "status", "risk_class", "validation_gates_required", "evaluation_results_ref"],
  "properties": {
    "prompt_id": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9_.-]*$"},
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "status": {"type": "string", "enum": ["DRAFT", "STAGING", "PROD", "DEPRECATED"]},
    "risk_class": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH"]},
    "validation_gates_required": {
      "type": "array",
      "items": {"type": "integer", "minimum": 1, "maximum": 4},
      "uniqueItems": true
    },
    "evaluation_results_ref": {"type": "string", "minLength": 1},
    "schema_ref": {"type": "string", "minLength": 1},
    "description": {"type": "string"}
  }
}`

var (
	compileMetadataOnce sync.Once
	compiledMetadata    *jsonschema.Schema
	compileMetadataErr  error

	promptIDRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

func metadataSchemaFor() (*jsonschema.Schema, error) {
	compileMetadataOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const schemaURL = "https://idis.schemas.local/prompts/metadata.schema.json"
		if err := c.AddResource(schemaURL, strings.NewReader(metadataSchema)); err != nil {
			compileMetadataErr = fmt.Errorf("prompts: metadata schema load failed: %w", err)
			return
		}
		compiledMetadata, compileMetadataErr = c.Compile(schemaURL)
	})
	return compiledMetadata, compileMetadataErr
}

// Store reads and writes the on-disk prompt layout:
//
//	<root>/<prompt_id>/<version>/prompt.md
//	<root>/<prompt_id>/<version>/metadata.json
//	<root>/registry.<env>.json
//
// An optional schema root anchors schema_ref resolution; when it is not
// configured, any artifact declaring a schema_ref fails to load.
type Store struct {
	root       string
	schemaRoot string
}

// StoreOption adjusts a Store at construction.
type StoreOption func(*Store)

// WithSchemaRoot sets the directory schema_ref paths resolve under.
func WithSchemaRoot(dir string) StoreOption {
	return func(s *Store) { s.schemaRoot = dir }
}

// NewStore creates a store rooted at root. The directory does not have
// to exist yet; it is created on the first write.
func NewStore(root string, opts ...StoreOption) (*Store, error) {
	if root == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "prompts: root directory is required")
	}
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) artifactDir(promptID, version string) string {
	return filepath.Join(s.root, promptID, version)
}

func (s *Store) registryPath(env Env) string {
	return filepath.Join(s.root, "registry."+string(env)+".json")
}

func validatePromptID(promptID string) error {
	if !promptIDRE.MatchString(promptID) || strings.Contains(promptID, "..") {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: invalid prompt id %q", promptID)
	}
	return nil
}

// validateSchemaRef keeps schema references inside the schema root:
// relative forward-slash paths only, no traversal, no platform tricks.
func validateSchemaRef(ref string) error {
	switch {
	case strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "~"):
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: schema_ref %q must be relative", ref)
	case strings.ContainsAny(ref, "\\\x00"):
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: schema_ref %q contains forbidden characters", ref)
	case strings.Contains(ref, ".."):
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: schema_ref %q attempts traversal", ref)
	}
	return nil
}

// LoadVersion reads one artifact version from disk and verifies it end
// to end. Every failure mode is fatal: missing files, malformed JSON,
// schema violations, id or version mismatches between the directory and
// the metadata, versions that are not strict MAJOR.MINOR.PATCH, and
// schema references that cannot be located.
func (s *Store) LoadVersion(promptID, version string) (*Artifact, error) {
	if err := validatePromptID(promptID); err != nil {
		return nil, err
	}
	if _, err := ParseVersion(version); err != nil {
		return nil, err
	}

	dir := s.artifactDir(promptID, version)
	body, err := os.ReadFile(filepath.Join(dir, promptFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "prompts: %s@%s has no %s", promptID, version, promptFileName)
		}
		return nil, fmt.Errorf("prompts: read %s for %s@%s: %w", promptFileName, promptID, version, err)
	}

	rawMeta, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "prompts: %s@%s has no %s", promptID, version, metadataFileName)
		}
		return nil, fmt.Errorf("prompts: read %s for %s@%s: %w", metadataFileName, promptID, version, err)
	}

	meta, err := decodeMetadata(rawMeta)
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindOf(err), err, "prompts: %s@%s", promptID, version)
	}
	if meta.PromptID != promptID {
		return nil, idiserr.Newf(idiserr.KindConflict, "prompts: metadata for %s@%s names prompt %q", promptID, version, meta.PromptID)
	}
	if meta.Version != version {
		return nil, idiserr.Newf(idiserr.KindConflict, "prompts: metadata for %s@%s names version %q", promptID, version, meta.Version)
	}

	if meta.SchemaRef != "" {
		if err := s.resolveSchemaRef(promptID, version, meta.SchemaRef); err != nil {
			return nil, err
		}
	}

	return &Artifact{Metadata: meta, Body: string(body)}, nil
}

func decodeMetadata(raw []byte) (Metadata, error) {
	schema, err := metadataSchemaFor()
	if err != nil {
		return Metadata{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "metadata schema unavailable")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Metadata{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "metadata is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return Metadata{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "metadata rejected by schema")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "metadata decode failed")
	}
	if _, err := ParseVersion(meta.Version); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// resolveSchemaRef fails closed both ways: a ref with no schema root
// configured is rejected, and a configured root without the referenced
// file is rejected. There is no silent bypass.
func (s *Store) resolveSchemaRef(promptID, version, ref string) error {
	if err := validateSchemaRef(ref); err != nil {
		return err
	}
	if s.schemaRoot == "" {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: %s@%s declares schema_ref %q but no schema root is configured", promptID, version, ref)
	}
	path := filepath.Join(s.schemaRoot, filepath.FromSlash(ref))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idiserr.Newf(idiserr.KindNotFound, "prompts: %s@%s schema_ref %q not found under schema root", promptID, version, ref)
		}
		return fmt.Errorf("prompts: stat schema_ref %q: %w", ref, err)
	}
	if info.IsDir() {
		return idiserr.Newf(idiserr.KindNotFound, "prompts: %s@%s schema_ref %q is a directory", promptID, version, ref)
	}
	return nil
}

// Load resolves promptID through env's registry pointer and loads the
// pointed-at version. The pointer file must exist; a prompt absent from
// it is NOT_FOUND.
func (s *Store) Load(env Env, promptID string) (*Artifact, error) {
	ptr, err := s.Registry(env)
	if err != nil {
		return nil, err
	}
	version, ok := ptr.Prompts[promptID]
	if !ok {
		return nil, idiserr.Newf(idiserr.KindNotFound, "prompts: %s is not registered in %s", promptID, env)
	}
	return s.LoadVersion(promptID, version)
}

// SaveVersion writes a new artifact version. Versions are immutable:
// writing over an existing one is a conflict. The metadata is validated
// with the same strictness as the loader before anything touches disk.
func (s *Store) SaveVersion(a *Artifact) error {
	if a == nil {
		return idiserr.New(idiserr.KindInvalidInput, "prompts: artifact is required")
	}
	if err := validatePromptID(a.PromptID); err != nil {
		return err
	}
	if _, err := ParseVersion(a.Version); err != nil {
		return err
	}
	if a.Body == "" {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: %s@%s has an empty body", a.PromptID, a.Version)
	}

	meta := a.Metadata
	if meta.GatesRequired == nil {
		meta.GatesRequired = []int{}
	}
	rawMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("prompts: marshal metadata for %s@%s: %w", a.PromptID, a.Version, err)
	}
	rawMeta = append(rawMeta, '\n')
	if _, err := decodeMetadata(rawMeta); err != nil {
		return idiserr.Wrapf(idiserr.KindOf(err), err, "prompts: %s@%s", a.PromptID, a.Version)
	}

	dir := s.artifactDir(a.PromptID, a.Version)
	if _, err := os.Stat(filepath.Join(dir, metadataFileName)); err == nil {
		return idiserr.Newf(idiserr.KindConflict, "prompts: %s@%s already exists", a.PromptID, a.Version)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("prompts: stat %s@%s: %w", a.PromptID, a.Version, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prompts: create version directory for %s@%s: %w", a.PromptID, a.Version, err)
	}
	if err := os.WriteFile(filepath.Join(dir, promptFileName), []byte(a.Body), 0o644); err != nil {
		return fmt.Errorf("prompts: write %s for %s@%s: %w", promptFileName, a.PromptID, a.Version, err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), rawMeta, 0o644); err != nil {
		return fmt.Errorf("prompts: write %s for %s@%s: %w", metadataFileName, a.PromptID, a.Version, err)
	}
	return nil
}

// Registry reads and parses the pointer file for env. A missing file is
// NOT_FOUND; promotion is the only path that tolerates absence, via
// RegistrySnapshot.
func (s *Store) Registry(env Env) (Pointer, error) {
	if !ValidEnv(env) {
		return Pointer{}, idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}
	raw, err := os.ReadFile(s.registryPath(env))
	if err != nil {
		if os.IsNotExist(err) {
			return Pointer{}, idiserr.Newf(idiserr.KindNotFound, "prompts: registry.%s.json does not exist", env)
		}
		return Pointer{}, fmt.Errorf("prompts: read registry.%s.json: %w", env, err)
	}
	var ptr Pointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return Pointer{}, idiserr.Wrapf(idiserr.KindInvalidInput, err, "prompts: registry.%s.json is not valid JSON", env)
	}
	if ptr.Env != env {
		return Pointer{}, idiserr.Newf(idiserr.KindConflict, "prompts: registry.%s.json declares env %q", env, ptr.Env)
	}
	if ptr.Prompts == nil {
		ptr.Prompts = map[string]string{}
	}
	return ptr, nil
}

// RegistrySnapshot captures the raw pointer bytes so a failed operation
// can put the file back exactly as it was. existed=false records that
// there was no file to restore.
func (s *Store) RegistrySnapshot(env Env) (raw []byte, existed bool, err error) {
	if !ValidEnv(env) {
		return nil, false, idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}
	raw, err = os.ReadFile(s.registryPath(env))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("prompts: snapshot registry.%s.json: %w", env, err)
	}
	return raw, true, nil
}

// WriteRegistry serializes the pointer with sorted keys, two-space
// indentation, and a trailing newline, then replaces the file via a
// temp file renamed in place. Readers never observe a partial write.
func (s *Store) WriteRegistry(ptr Pointer) error {
	if !ValidEnv(ptr.Env) {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", ptr.Env)
	}
	if ptr.Prompts == nil {
		ptr.Prompts = map[string]string{}
	}
	raw, err := json.MarshalIndent(ptr, "", "  ")
	if err != nil {
		return fmt.Errorf("prompts: marshal registry.%s.json: %w", ptr.Env, err)
	}
	return s.replaceRegistry(ptr.Env, append(raw, '\n'))
}

// RestoreRegistry rewinds the pointer file to a RegistrySnapshot. A
// snapshot that recorded no file removes the file.
func (s *Store) RestoreRegistry(env Env, raw []byte, existed bool) error {
	if !ValidEnv(env) {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}
	if !existed {
		if err := os.Remove(s.registryPath(env)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prompts: remove registry.%s.json: %w", env, err)
		}
		return nil
	}
	return s.replaceRegistry(env, raw)
}

func (s *Store) replaceRegistry(env Env, data []byte) error {
	path := s.registryPath(env)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prompts: create root directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*")
	if err != nil {
		return fmt.Errorf("prompts: create temp pointer file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("prompts: write temp pointer file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("prompts: sync temp pointer file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prompts: close temp pointer file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prompts: replace registry.%s.json: %w", env, err)
	}
	return nil
}
