package llm

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/catalog"
	"github.com/calder-ai/modelgate/internal/runtime"
	"github.com/calder-ai/modelgate/internal/store"
)

// Deps carries the collaborators backends receive instead of reaching
// for globals. Remote backends use the HTTP client and catalog; the
// on-device backend additionally needs the runtime engine and the
// download manifest.
type Deps struct {
	Logger  *zap.Logger
	Catalog *catalog.Catalog

	// Optional override, mainly for tests. Backends fall back to a
	// client built from the descriptor timeout.
	HTTPClient *http.Client

	Engine    runtime.Engine
	Downloads store.DownloadRepository
}

// Factory builds one backend from a validated descriptor.
type Factory func(d Descriptor, deps Deps) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[Kind]Factory)
)

// Register installs a backend constructor for a kind. Backend packages
// call this from init; registering a kind twice is a programming error.
func Register(kind Kind, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("backend factory %s already registered", kind))
	}
	factories[kind] = f
}

func Get(kind Kind) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[kind]
	if !ok {
		return nil, Errorf(ErrorTypeConfiguration, "no backend registered for kind %q", kind)
	}
	return f, nil
}

// BackendFactory is the single construction point for backends.
type BackendFactory struct {
	deps Deps
}

func NewBackendFactory(deps Deps) *BackendFactory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Builtin()
	}
	return &BackendFactory{deps: deps}
}

// Create normalizes and validates the descriptor, then builds the
// backend for its kind. Invalid descriptors and unknown kinds come
// back as configuration errors.
func (f *BackendFactory) Create(d Descriptor) (Backend, error) {
	d = d.Normalized()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	factoryFunc, err := Get(d.Kind)
	if err != nil {
		return nil, err
	}

	return factoryFunc(d, f.deps)
}
