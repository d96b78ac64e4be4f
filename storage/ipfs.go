package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/landsure/landsure-registry/interfaces"
)

const defaultIPFSDir = "/landsure/metadata"

// IPFSBackend stores documents in the mutable file system of an IPFS node,
// named by content ID so they can be looked up without tracking CIDs.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	dir         string
	log         *slog.Logger
	locationURI string
}

func NewIPFSBackend(host, port, dir, timeout string, log *slog.Logger) (*IPFSBackend, error) {
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, timeout)
	}
	if dir == "" {
		dir = defaultIPFSDir
	}

	apiURL := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiURL)
	sh.SetTimeout(d)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		dir:         dir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s&dir=%s", apiURL, timeout, dir),
	}, nil
}

func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()
	p := b.getIPFSPath(id)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "not found") {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", p),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", p),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

func (b *IPFSBackend) Store(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, b.getIPFSPath(id), bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("path", b.getIPFSPath(id)),
		slog.String("contentID", id.String()))

	return id, nil
}

func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) getIPFSPath(id interfaces.ContentID) string {
	return path.Join(b.dir, id.String()+".json")
}
