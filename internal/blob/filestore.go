package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/ScanVault/internal/signing"
)

// RoutePrefix is the HTTP path under which FileStore addresses are served.
const RoutePrefix = "/blobs/"

// FileStore keeps blobs in a local directory. Addresses point back at the API
// server (RoutePrefix) and carry an HMAC signature of the key.
type FileStore struct {
	dir     string
	baseURL string
	signer  *signing.Signer
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir, baseURL string, signer *signing.Signer) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}, nil
}

// Put writes data under key. The write goes to a temp file first so a reader
// never observes a partial blob.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("commit blob %s: %w", key, err)
	}
	return nil
}

// PublicAddress returns the signed address of an existing key.
func (s *FileStore) PublicAddress(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("address for %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("stat blob %s: %w", key, err)
	}
	q := url.Values{"sig": []string{s.signer.Sign(key)}}
	return s.baseURL + RoutePrefix + key + "?" + q.Encode(), nil
}

// Get resolves an address previously returned by PublicAddress.
func (s *FileStore) Get(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, sig, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.read(key, sig)
}

// Handler serves blobs at RoutePrefix so FileStore addresses are
// dereferenceable over HTTP.
func (s *FileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, RoutePrefix)
		data, err := s.read(key, r.URL.Query().Get("sig"))
		if err != nil {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header().Set("Content-Type", http.DetectContentType(data))
		}
		w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	})
}

func (s *FileStore) read(key, sig string) ([]byte, error) {
	if !s.signer.Validate(key, sig) {
		return nil, fmt.Errorf("blob %s: bad signature: %w", key, ErrNotFound)
	}
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func parseAddress(address string) (key, sig string, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("parse address: %w", ErrNotFound)
	}
	idx := strings.Index(u.Path, RoutePrefix)
	if idx < 0 {
		return "", "", fmt.Errorf("address %q is not a file-store address: %w", address, ErrNotFound)
	}
	return u.Path[idx+len(RoutePrefix):], u.Query().Get("sig"), nil
}
