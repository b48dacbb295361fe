// Package refstore keeps the reference descriptions used to recognise known
// people in photos.
//
// A person is only ever added with their consent, through the
// administrative path returned by Store.Admin. What is stored is a text
// description of the face produced once from a reference photo; the photo
// itself is not sent again when identifying people.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/media"
)

const descriptionMaxTokens = 1024

const descriptionPrompt = `Provide a detailed description of the person's facial features for identification purposes:
- Face shape
- Eye color and shape
- Nose characteristics
- Mouth and smile
- Hair color and style
- Distinctive features (glasses, facial hair, marks, etc.)
- Approximate age range
- Any other notable identifying characteristics

Be specific and detailed to enable future identification.`

var (
	ErrAlreadyExists     = errors.New("person already exists")
	ErrImageNotFound     = errors.New("reference image not found")
	ErrDescriptionFailed = errors.New("could not describe reference image")
	ErrConsentRequired   = errors.New("consent is required")
	ErrInvalidName       = errors.New("name must not be empty")

	// ErrCorrupt is returned when a persisted store exists but cannot be
	// read. The store refuses to continue rather than start from empty.
	ErrCorrupt = errors.New("reference store is corrupt")
)

type Person struct {
	Name              string `json:"name"`
	ReferenceImage    string `json:"reference_image"`
	FacialDescription string `json:"facial_description"`
	Notes             string `json:"notes"`
	AddedDate         string `json:"added_date"`
}

// Backing is the durable storage behind a Store. Implementations must make
// Insert and Delete atomic, and must compare names case-insensitively.
type Backing interface {
	// Exists reports whether the store has ever been written.
	Exists(ctx context.Context) (bool, error)
	// List returns all people in insertion order.
	List(ctx context.Context) ([]Person, error)
	// Insert adds p, or returns ErrAlreadyExists.
	Insert(ctx context.Context, p Person) error
	// Delete removes the person called name and reports whether they were
	// present.
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

// Store serialises access to a Backing: any number of concurrent readers,
// one writer at a time.
type Store struct {
	mu sync.RWMutex
	b  Backing

	vision backend.Vision
	logger *slog.Logger
	now    func() time.Time
}

func New(b Backing, vision backend.Vision, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{b: b, vision: vision, logger: logger, now: time.Now}
}

type Options struct {
	// Kind is "json" (the default) or "sqlite".
	Kind string
	Path string

	Vision backend.Vision
	Logger *slog.Logger
}

// Open opens the store at opts.Path. A JSON store that does not exist yet is
// created on first add; a SQLite database is created immediately.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var b Backing
	switch opts.Kind {
	case "", "json":
		b = OpenJSON(opts.Path)
	case "sqlite":
		db, err := OpenSQLite(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		b = db
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
	return New(b, opts.Vision, opts.Logger), nil
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.b.Exists(ctx)
}

// List returns a snapshot of everyone in the store in the order they were
// added.
func (s *Store) List(ctx context.Context) ([]Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.b.List(ctx)
}

// Snapshot is List under the name used by the identification path: the
// returned slice is a copy that later writes do not affect.
func (s *Store) Snapshot(ctx context.Context) ([]Person, error) {
	return s.List(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Close()
}

// Admin returns the handle for adding and removing people. The caller must
// have confirmed that the store will be used responsibly: only on personal
// photos, with the consent of everyone added, and honouring removal
// requests.
func (s *Store) Admin(acknowledged bool) (*Admin, error) {
	if !acknowledged {
		return nil, fmt.Errorf("%w: responsible use was not acknowledged", ErrConsentRequired)
	}
	return &Admin{s: s}, nil
}

type Admin struct {
	s *Store
}

type NewPerson struct {
	Name      string
	ImagePath string
	Notes     string

	// Consent records that the person agreed to be added.
	Consent bool
}

// Add describes the reference image with the vision model and stores the
// result. The name is checked before the model is called so a duplicate
// costs nothing; it is checked again on insert.
func (a *Admin) Add(ctx context.Context, np NewPerson) (Person, error) {
	s := a.s
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return Person{}, ErrInvalidName
	}
	if !np.Consent {
		return Person{}, fmt.Errorf("%w: %s has not consented", ErrConsentRequired, name)
	}

	people, err := s.List(ctx)
	if err != nil {
		return Person{}, err
	}
	if indexOf(people, name) >= 0 {
		return Person{}, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	s.logger.Info("describing reference image", "name", name, "image", np.ImagePath)
	desc, err := s.vision.AskFile(ctx, np.ImagePath, descriptionPrompt, descriptionMaxTokens)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return Person{}, fmt.Errorf("%w: %s", ErrImageNotFound, np.ImagePath)
		}
		return Person{}, fmt.Errorf("%w: %w", ErrDescriptionFailed, err)
	}

	p := Person{
		Name:              name,
		ReferenceImage:    np.ImagePath,
		FacialDescription: desc,
		Notes:             np.Notes,
		AddedDate:         s.now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.b.Insert(ctx, p); err != nil {
		return Person{}, err
	}
	s.logger.Info("added person", "name", name)
	return p, nil
}

// Remove deletes name from the store. It returns false if nobody by that
// name (compared case-insensitively) was present.
func (a *Admin) Remove(ctx context.Context, name string) (bool, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.b.Delete(ctx, strings.TrimSpace(name))
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("removed person", "name", name)
	}
	return removed, nil
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

type ImportReport struct {
	Added   []string
	Skipped []string // already present
	Failed  map[string]error
}

// Import adds every image in dir, naming each person after the file's base
// name with underscores read as spaces ("ada_lovelace.jpg" is "ada
// lovelace"). consent asserts that everyone pictured agreed to be added.
// progress, if not nil, is called after each file.
func (a *Admin) Import(ctx context.Context, dir string, consent bool, progress func(name string, err error)) (ImportReport, error) {
	if !consent {
		return ImportReport{}, fmt.Errorf("%w: import requires consent for every person", ErrConsentRequired)
	}

	paths, err := ImportCandidates(dir)
	if err != nil {
		return ImportReport{}, err
	}

	rep := ImportReport{Failed: map[string]error{}}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		name := NameFromPath(path)
		_, err := a.Add(ctx, NewPerson{Name: name, ImagePath: path, Consent: true})
		switch {
		case err == nil:
			rep.Added = append(rep.Added, name)
		case errors.Is(err, ErrAlreadyExists):
			rep.Skipped = append(rep.Skipped, name)
		case errors.Is(err, ErrCorrupt):
			return rep, err
		default:
			rep.Failed[name] = err
		}
		if progress != nil {
			progress(name, err)
		}
	}
	return rep, nil
}

// ImportCandidates returns the image files directly inside dir, sorted by
// name.
func ImportCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func NameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// indexOf returns the position of name in people, compared
// case-insensitively, or -1.
func indexOf(people []Person, name string) int {
	return slices.IndexFunc(people, func(p Person) bool {
		return strings.EqualFold(p.Name, name)
	})
}
