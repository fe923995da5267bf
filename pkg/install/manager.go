package install

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/roster"
)

const (
	stagedSuffix = ".pkg"
	partSuffix   = ".part"
	tmpPrefix    = ".tmp-"
)

// RemoveResult is the outcome of RemoveActivity.
type RemoveResult int

const (
	RemoveSuccess RemoveResult = iota
	RemoveFailure
	RemoveDoesntExist
)

func (r RemoveResult) String() string {
	switch r {
	case RemoveSuccess:
		return "SUCCESS"
	case RemoveFailure:
		return "FAILURE"
	case RemoveDoesntExist:
		return "DOESNT_EXIST"
	}
	return fmt.Sprintf("RemoveResult(%d)", int(r))
}

// DeployStatus is the outcome of Deploy.
type DeployStatus int

const (
	DeploySuccess DeployStatus = iota
	DeployFailureCopy
	DeployFailureUnpack
)

func (s DeployStatus) String() string {
	switch s {
	case DeploySuccess:
		return "SUCCESS"
	case DeployFailureCopy:
		return "FAILURE_COPY"
	case DeployFailureUnpack:
		return "FAILURE_UNPACK"
	}
	return fmt.Sprintf("DeployStatus(%d)", int(s))
}

// Request describes an activity to install.
type Request struct {
	UUID            string
	IdentifyingName string
	Version         string
	ArtifactURI     string
	// Digest, when set, is the hex blake3 digest the artifact must match.
	Digest        string
	StartupPolicy roster.StartupPolicy
	Type          string
	NodeUUID      string
	Configuration map[string]string
}

// Validate checks the request fields without touching disk.
func (r Request) Validate() error {
	if err := ValidateUUID(r.UUID); err != nil {
		return err
	}
	if err := ValidateIdentifyingName(r.IdentifyingName); err != nil {
		return err
	}
	if _, err := ValidateVersion(r.Version); err != nil {
		return err
	}
	if !r.StartupPolicy.Valid() {
		return invalid("startup policy", "%q", r.StartupPolicy)
	}
	return nil
}

// Staged is an artifact copied into the staging area.
type Staged struct {
	UUID   string
	Path   string
	Digest string
	Size   int64
}

// Config configures a Manager.
type Config struct {
	// StagingDir holds copied artifacts awaiting installation.
	StagingDir string
	// InstalledDir holds one directory per activity uuid.
	InstalledDir string
	Source       Source
	Repository   roster.Repository
	Logger       log.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Manager copies, installs and removes activity packages. Installs and
// removes are serialized; listeners run on the calling goroutine in
// registration order.
type Manager struct {
	cfg    Config
	logger log.Logger

	mu sync.Mutex

	lmu       sync.Mutex
	listeners []*listenerEntry
}

type listenerEntry struct {
	l Listener
}

// NewManager creates a Manager. Directories are created by Startup.
func NewManager(cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Source == nil {
		cfg.Source = FileSource{}
	}
	return &Manager{
		cfg:    cfg,
		logger: log.OrNoop(cfg.Logger).With(log.Component("install")),
	}
}

// Name implements resource.Named.
func (m *Manager) Name() string { return "installation-manager" }

// Startup creates the working directories and discards staging and
// unpack leftovers from an interrupted run.
func (m *Manager) Startup(ctx context.Context) error {
	for _, dir := range []string{m.cfg.StagingDir, m.cfg.InstalledDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	staged, err := os.ReadDir(m.cfg.StagingDir)
	if err != nil {
		return err
	}
	for _, e := range staged {
		path := filepath.Join(m.cfg.StagingDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove orphaned staging file", log.String("path", path), log.Err(err))
			continue
		}
		m.logger.Info("removed orphaned staging file", log.String("path", path))
	}

	activities, err := os.ReadDir(m.cfg.InstalledDir)
	if err != nil {
		return err
	}
	for _, a := range activities {
		if !a.IsDir() {
			continue
		}
		dir := filepath.Join(m.cfg.InstalledDir, a.Name())
		versions, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, v := range versions {
			if strings.HasPrefix(v.Name(), tmpPrefix) {
				_ = os.RemoveAll(filepath.Join(dir, v.Name()))
			}
		}
	}
	return nil
}

// Shutdown implements resource.Managed.
func (m *Manager) Shutdown(ctx context.Context) error { return nil }

// AddListener registers l. The returned function unregisters it.
func (m *Manager) AddListener(l Listener) func() {
	entry := &listenerEntry{l: l}
	m.lmu.Lock()
	m.listeners = append(m.listeners, entry)
	m.lmu.Unlock()

	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		for i, e := range m.listeners {
			if e == entry {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	out := make([]Listener, len(m.listeners))
	for i, e := range m.listeners {
		out[i] = e.l
	}
	return out
}

// StagedPath is where CopyActivity leaves the artifact for uuid.
func (m *Manager) StagedPath(uuid string) string {
	return filepath.Join(m.cfg.StagingDir, uuid+stagedSuffix)
}

// InstallPath is the directory a given version of uuid unpacks into.
func (m *Manager) InstallPath(uuid, version string) string {
	return filepath.Join(m.cfg.InstalledDir, uuid, version)
}

// CopyActivity fetches the artifact at uri into the staging area. When
// expectedDigest is non-empty the copy is rejected unless it matches.
func (m *Manager) CopyActivity(ctx context.Context, uuid, uri, expectedDigest string) (Staged, error) {
	if err := ValidateUUID(uuid); err != nil {
		return Staged{}, err
	}
	if uri == "" {
		return Staged{}, invalid("artifact uri", "empty")
	}

	rc, err := m.cfg.Source.Open(ctx, uri)
	if err != nil {
		return Staged{}, fmt.Errorf("open artifact %s: %w", uri, err)
	}
	defer rc.Close()

	final := m.StagedPath(uuid)
	part := final + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Staged{}, err
	}
	cleanup := func() {
		f.Close()
		os.Remove(part)
	}

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		cleanup()
		return Staged{}, fmt.Errorf("copy artifact %s: %w", uri, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return Staged{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return Staged{}, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if expectedDigest != "" && !strings.EqualFold(expectedDigest, digest) {
		os.Remove(part)
		return Staged{}, fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, expectedDigest, digest)
	}

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return Staged{}, err
	}
	if err := syncDir(m.cfg.StagingDir); err != nil {
		m.logger.Warn("staging dir sync failed", log.Err(err))
	}

	m.logger.Info("artifact staged",
		log.Activity(uuid),
		log.String("uri", uri),
		log.Int64("bytes", n),
		log.String("digest", digest))
	return Staged{UUID: uuid, Path: final, Digest: digest, Size: n}, nil
}

// InstallActivity unpacks the staged artifact for req.UUID and records
// it in the roster. A previous version of the same activity is replaced
// only after the new one is fully on disk.
func (m *Manager) InstallActivity(ctx context.Context, req Request) (roster.InstalledLiveActivity, error) {
	if err := req.Validate(); err != nil {
		return roster.InstalledLiveActivity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.StagedPath(req.UUID)
	if _, err := os.Stat(staged); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return roster.InstalledLiveActivity{}, fmt.Errorf("%w for %s", ErrNotStaged, req.UUID)
		}
		return roster.InstalledLiveActivity{}, err
	}

	base := filepath.Join(m.cfg.InstalledDir, req.UUID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return roster.InstalledLiveActivity{}, err
	}
	tmp, err := os.MkdirTemp(base, tmpPrefix+req.Version+"-")
	if err != nil {
		return roster.InstalledLiveActivity{}, err
	}
	keepTmp := false
	defer func() {
		if !keepTmp {
			os.RemoveAll(tmp)
		}
	}()

	if err := Unpack(staged, tmp); err != nil {
		return roster.InstalledLiveActivity{}, fmt.Errorf("unpack %s: %w", req.UUID, err)
	}
	manifest, err := ReadManifest(tmp)
	if err != nil {
		return roster.InstalledLiveActivity{}, err
	}
	if manifest != nil && manifest.Version != "" && manifest.Version != req.Version {
		return roster.InstalledLiveActivity{}, invalid("version", "package declares %s, request says %s", manifest.Version, req.Version)
	}
	if err := syncDir(tmp); err != nil {
		return roster.InstalledLiveActivity{}, err
	}

	// A reinstall of the same version is set aside, not deleted, until
	// the new record is persisted.
	dest := m.InstallPath(req.UUID, req.Version)
	aside := ""
	if _, err := os.Stat(dest); err == nil {
		aside = filepath.Join(base, tmpPrefix+req.Version+"-previous")
		if err := os.RemoveAll(aside); err != nil {
			return roster.InstalledLiveActivity{}, err
		}
		if err := os.Rename(dest, aside); err != nil {
			return roster.InstalledLiveActivity{}, err
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		m.restoreAside(req.UUID, aside, dest)
		return roster.InstalledLiveActivity{}, err
	}
	keepTmp = true
	if err := syncDir(base); err != nil {
		m.logger.Warn("install dir sync failed", log.Activity(req.UUID), log.Err(err))
	}

	rec := m.record(ctx, req, manifest, dest)
	if err := m.cfg.Repository.Put(ctx, rec); err != nil {
		if rerr := os.RemoveAll(dest); rerr != nil {
			m.logger.Error("could not remove unrecorded install", log.Activity(req.UUID), log.String("path", dest), log.Err(rerr))
		}
		m.restoreAside(req.UUID, aside, dest)
		return roster.InstalledLiveActivity{}, fmt.Errorf("record %s: %w", req.UUID, err)
	}
	if aside != "" {
		os.RemoveAll(aside)
	}

	m.pruneVersions(base, req.Version)
	m.updateInstalledGauge(ctx)

	m.logger.Info("activity installed",
		log.Activity(req.UUID),
		log.String("name", rec.IdentifyingName),
		log.String("version", rec.Version),
		log.String("path", dest))

	for _, l := range m.snapshotListeners() {
		l.OnActivityInstall(req.UUID)
	}
	return rec, nil
}

// restoreAside moves a set-aside install back to dest.
func (m *Manager) restoreAside(uuid, aside, dest string) {
	if aside == "" {
		return
	}
	if err := os.Rename(aside, dest); err != nil {
		m.logger.Error("could not restore previous install", log.Activity(uuid), log.String("path", aside), log.Err(err))
	}
}

func (m *Manager) record(ctx context.Context, req Request, manifest *Manifest, dest string) roster.InstalledLiveActivity {
	cfg := map[string]string{}
	typ := req.Type
	executable := ""
	if manifest != nil {
		for k, v := range manifest.Configuration {
			cfg[k] = v
		}
		if typ == "" {
			typ = manifest.Type
		}
		executable = manifest.Executable
	}
	for k, v := range req.Configuration {
		cfg[k] = v
	}
	if len(cfg) == 0 {
		cfg = nil
	}

	rec := roster.InstalledLiveActivity{
		UUID:              req.UUID,
		IdentifyingName:   req.IdentifyingName,
		Version:           req.Version,
		BaseInstallPath:   dest,
		LastDeployed:      m.cfg.Now(),
		LastActivityState: lifecycle.StateUnknown,
		InstallStatus:     roster.StatusInstalled,
		StartupPolicy:     req.StartupPolicy,
		NodeUUID:          req.NodeUUID,
		ArtifactURI:       req.ArtifactURI,
		Digest:            req.Digest,
		Type:              typ,
		Executable:        executable,
		Configuration:     cfg,
	}
	if prev, err := m.cfg.Repository.Get(ctx, req.UUID); err == nil && rec.StartupPolicy == "" {
		rec.StartupPolicy = prev.StartupPolicy
	}
	return rec
}

func (m *Manager) pruneVersions(base, keep string) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		old := filepath.Join(base, e.Name())
		if err := os.RemoveAll(old); err != nil {
			m.logger.Warn("failed to remove old version", log.String("path", old), log.Err(err))
		}
	}
}

// RemovePackedActivity deletes the staged artifact for uuid. Removing an
// artifact that is not there is not an error.
func (m *Manager) RemovePackedActivity(uuid string) error {
	if err := ValidateUUID(uuid); err != nil {
		return err
	}
	for _, p := range []string{m.StagedPath(uuid), m.StagedPath(uuid) + partSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// RemoveActivity deletes the installed files and roster record for uuid.
// Listeners are told only when something was actually removed.
func (m *Manager) RemoveActivity(ctx context.Context, uuid string) (RemoveResult, error) {
	if err := ValidateUUID(uuid); err != nil {
		return RemoveFailure, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.cfg.Repository.Get(ctx, uuid); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			return RemoveDoesntExist, nil
		}
		return RemoveFailure, err
	}

	dir := filepath.Join(m.cfg.InstalledDir, uuid)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error("failed to remove activity files", log.Activity(uuid), log.Err(err))
		return RemoveFailure, err
	}
	if _, err := m.cfg.Repository.Delete(ctx, uuid); err != nil {
		m.logger.Error("failed to remove roster record", log.Activity(uuid), log.Err(err))
		return RemoveFailure, err
	}
	m.updateInstalledGauge(ctx)
	m.logger.Info("activity removed", log.Activity(uuid))

	for _, l := range m.snapshotListeners() {
		l.OnActivityRemove(uuid)
	}
	return RemoveSuccess, nil
}

// DeployResult reports the outcome of Deploy.
type DeployResult struct {
	Status DeployStatus
	Record roster.InstalledLiveActivity
	Err    error
}

// Deploy copies and installs req. The staged artifact is always removed
// afterwards.
func (m *Manager) Deploy(ctx context.Context, req Request) DeployResult {
	if err := req.Validate(); err != nil {
		return DeployResult{Status: DeployFailureCopy, Err: err}
	}
	defer func() {
		if err := m.RemovePackedActivity(req.UUID); err != nil {
			m.logger.Warn("failed to remove staged artifact", log.Activity(req.UUID), log.Err(err))
		}
	}()

	if _, err := m.CopyActivity(ctx, req.UUID, req.ArtifactURI, req.Digest); err != nil {
		return DeployResult{Status: DeployFailureCopy, Err: err}
	}
	rec, err := m.InstallActivity(ctx, req)
	if err != nil {
		return DeployResult{Status: DeployFailureUnpack, Err: err}
	}
	return DeployResult{Status: DeploySuccess, Record: rec}
}

func (m *Manager) updateInstalledGauge(ctx context.Context) {
	if m.cfg.Metrics == nil {
		return
	}
	if all, err := m.cfg.Repository.List(ctx); err == nil {
		m.cfg.Metrics.SetInstalled(len(all))
	}
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
