package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// document is the on-disk layout, {"people": [...]}. A document without a
// "people" key reads as an empty store.
type document struct {
	People []Person `json:"people"`
}

// JSONFile stores people in a single JSON document. Writes go to a temporary
// file in the same directory which is then renamed over the document, so
// readers see either the old or the new store and never a partial one.
// Writers in different processes are serialised by a lock file next to the
// document.
type JSONFile struct {
	path string
	lock *flock.Flock
}

var _ Backing = &JSONFile{}

func OpenJSON(path string) *JSONFile {
	return &JSONFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (j *JSONFile) Path() string { return j.path }

func (j *JSONFile) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (j *JSONFile) List(ctx context.Context) ([]Person, error) {
	return j.load()
}

func (j *JSONFile) Insert(ctx context.Context, p Person) error {
	if err := j.lock.Lock(); err != nil {
		return err
	}
	defer j.lock.Unlock()

	people, err := j.load()
	if err != nil {
		return err
	}
	if indexOf(people, p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Name)
	}
	return j.save(append(people, p))
}

func (j *JSONFile) Delete(ctx context.Context, name string) (bool, error) {
	if err := j.lock.Lock(); err != nil {
		return false, err
	}
	defer j.lock.Unlock()

	people, err := j.load()
	if err != nil {
		return false, err
	}
	i := indexOf(people, name)
	if i < 0 {
		return false, nil
	}
	people = append(people[:i], people[i+1:]...)
	return true, j.save(people)
}

func (j *JSONFile) Close() error {
	return j.lock.Close()
}

func (j *JSONFile) load() ([]Person, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, j.path, err)
	}
	return doc.People, nil
}

func (j *JSONFile) save(people []Person) error {
	if people == nil {
		people = []Person{}
	}
	data, err := json.MarshalIndent(document{People: people}, "", "  ")
	if err != nil {
		return err
	}

	dir, base := filepath.Split(j.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), j.path)
}
