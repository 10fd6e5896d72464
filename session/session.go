// Package session implements the ping session engine (§4.2): the per-
// backup-event entry point that is invoked once per incoming tunnel
// connection, checks in with the coordinator, drives one sync per
// scheduled source, commits snapshots, evaluates retention, and reports
// back.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/lock"
	"github.com/turku/storage-agent/placement"
	"github.com/turku/storage-agent/remote"
	"github.com/turku/storage-agent/retention"
	"github.com/turku/storage-agent/volume"
)

// ErrBusy re-exports lock.ErrBusy under the session package's own taxonomy
// so callers only need to import one package's sentinels to recognize it.
var ErrBusy = lock.ErrBusy

// ErrSourceCredsMissing marks a non-fatal per-source skip.
var ErrSourceCredsMissing = errors.Sentinel("session: source credentials missing")

// Handshake is the JSON object read from standard input at the start of a
// ping session.
type Handshake struct {
	Port    int                       `json:"port"`
	Verbose bool                      `json:"verbose"`
	Action  string                    `json:"action"`
	Sources map[string]SourceOverride `json:"sources"`
}

// SourceOverride lets the caller of ping supply per-source credentials
// that take precedence over whatever the coordinator's checkin response
// carries.
type SourceOverride struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ReadHandshake decodes a Handshake from r. The JSON object may be
// terminated either by EOF or by a line containing a single ".".
func ReadHandshake(r io.Reader) (*Handshake, error) {
	scanner := bufio.NewScanner(r)
	var buf strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			break
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithMessage(err, "session: failed to read handshake")
	}

	var h Handshake
	if err := json.Unmarshal([]byte(buf.String()), &h); err != nil {
		return nil, errors.WithMessage(err, "session: failed to decode handshake JSON")
	}
	return &h, nil
}

// storageIdentity is embedded in every request to the coordinator.
type storageIdentity struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

type checkinRequest struct {
	Storage storageIdentity `json:"storage"`
	Machine struct {
		UUID string `json:"uuid"`
	} `json:"machine"`
}

type sourceDescriptor struct {
	Username            string   `json:"username"`
	Password            string   `json:"password"`
	Filter              []string `json:"filter"`
	Exclude             []string `json:"exclude"`
	Retention           string   `json:"retention"`
	Bwlimit             int      `json:"bwlimit"`
	SnapshotMode        string   `json:"snapshot_mode"`
	LargeRotatingFiles  bool     `json:"large_rotating_files"`
	LargeModifyingFiles bool     `json:"large_modifying_files"`
}

type checkinResponse struct {
	Machine struct {
		UUID             string                      `json:"uuid"`
		UnitName         string                      `json:"unit_name"`
		ServiceName      string                      `json:"service_name"`
		EnvironmentName  string                      `json:"environment_name"`
		ScheduledSources map[string]sourceDescriptor `json:"scheduled_sources"`
	} `json:"machine"`
}

type sourceResult struct {
	Success   bool   `json:"success"`
	Snapshot  string `json:"snapshot,omitempty"`
	Summary   string `json:"summary"`
	TimeBegin string `json:"time_begin"`
	TimeEnd   string `json:"time_end"`
}

type sourceUpdateRequest struct {
	Storage storageIdentity `json:"storage"`
	Machine struct {
		UUID    string                  `json:"uuid"`
		Sources map[string]sourceResult `json:"sources"`
	} `json:"machine"`
}

// Engine runs ping sessions against a loaded configuration.
type Engine struct {
	Config *config.Configuration
	Client *remote.Client
}

// NewEngine constructs an Engine from a loaded, validated configuration.
func NewEngine(cfg *config.Configuration) *Engine {
	return &Engine{
		Config: cfg,
		Client: remote.NewFromConfig(cfg),
	}
}

// Run executes one full ping session for machineUUID, reading the
// handshake from stdin and writing subprocess/log output through log.
func (e *Engine) Run(ctx context.Context, machineUUID string, stdin io.Reader) error {
	if _, err := uuid.Parse(machineUUID); err != nil {
		return errors.WithMessagef(err, "session: %q is not a valid UUID", machineUUID)
	}

	l, err := lock.Acquire(e.Config.LockDir, lock.UUIDLockName(machineUUID))
	if err != nil {
		return err
	}
	defer l.Release()

	logger := log.WithFields(log.Fields{"uuid": machineUUID, "pid": os.Getpid()})

	h, err := ReadHandshake(stdin)
	if err != nil {
		return err
	}

	if h.Action == "restore" {
		logger.Info("session: restore action requested, entering passthrough")
		return e.runRestore(ctx)
	}

	ident := storageIdentity{Name: e.Config.Name, Secret: e.Config.Secret}

	var checkin checkinResponse
	req := checkinRequest{Storage: ident}
	req.Machine.UUID = machineUUID
	if err := e.Client.Call(ctx, "storage_ping_checkin", req, &checkin); err != nil {
		return errors.WithMessage(err, "session: checkin failed")
	}

	unitName := checkin.Machine.UnitName
	if unitName == "" {
		unitName = machineUUID
	}

	machineDir, err := e.placeMachine(machineUUID)
	if err != nil {
		return err
	}
	e.refreshFriendlySymlink(machineUUID, unitName, checkin.Machine.ServiceName, checkin.Machine.EnvironmentName)

	results := make(map[string]sourceResult)

	names := make([]string, 0, len(checkin.Machine.ScheduledSources))
	for name := range checkin.Machine.ScheduledSources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		desc := checkin.Machine.ScheduledSources[name]
		sourceLogger := logger.WithField("source", name)

		username, password, ok := resolveCredentials(desc, h.Sources[name])
		if !ok {
			sourceLogger.Warn("session: missing source credentials, skipping")
			continue
		}

		res := e.runSource(ctx, sourceLogger, machineDir, name, desc, h.Port, username, password)
		results[name] = res
	}

	updateReq := sourceUpdateRequest{Storage: ident}
	updateReq.Machine.UUID = machineUUID
	updateReq.Machine.Sources = results
	if err := e.Client.Call(ctx, "storage_ping_source_update", updateReq, nil); err != nil {
		return errors.WithMessage(err, "session: source update report failed")
	}

	return nil
}

// runRestore bridges stdin to stdout through /bin/cat until stdin closes.
// It makes no API calls and writes nothing to the filesystem.
func (e *Engine) runRestore(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "/bin/cat")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return errors.WithMessage(cmd.Run(), "session: restore passthrough failed")
}

func resolveCredentials(desc sourceDescriptor, override SourceOverride) (username, password string, ok bool) {
	username, password = desc.Username, desc.Password
	if override.Username != "" {
		username = override.Username
	}
	if override.Password != "" {
		password = override.Password
	}
	if username == "" || password == "" {
		return "", "", false
	}
	return username, password, true
}

// placeMachine returns the machine's storage directory, creating a new
// placement only the first time a UUID is seen. Once
// <var_dir>/machines/<uuid> exists as a symlink, its target is reused for
// the lifetime of that machine.
func (e *Engine) placeMachine(machineUUID string) (string, error) {
	machinesDir := filepath.Join(e.Config.VarDir, "machines")
	if err := os.MkdirAll(machinesDir, 0o755); err != nil {
		return "", errors.WithMessagef(err, "session: failed to create %s", machinesDir)
	}

	link := filepath.Join(machinesDir, machineUUID)
	if target, err := os.Readlink(link); err == nil {
		return target, nil
	}

	candidates := make([]placement.Candidate, 0, len(e.Config.Volumes))
	usages := map[string]volume.Usage{}
	for name, v := range e.Config.Volumes {
		total, available, _, err := volume.Stat(v.Path)
		if err != nil {
			log.WithField("volume", name).WithError(err).Warn("session: failed to stat volume, excluding from placement")
			continue
		}
		u := volume.Usage{
			Name: name, Path: v.Path, TotalMiB: total, AvailableMiB: available,
			AcceptNew: v.AcceptNew, HighWaterPct: v.AcceptNewHighWaterPct,
		}
		usages[name] = u
		if u.EligibleForPlacement() {
			candidates = append(candidates, placement.Candidate{Name: name, Available: available})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	chosen, err := placement.Choose(candidates, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return "", errors.WithMessage(err, "session: placement failed")
	}

	target := filepath.Join(usages[chosen].Path, machineUUID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", errors.WithMessagef(err, "session: failed to create machine directory %s", target)
	}
	if err := os.Symlink(target, link); err != nil && !os.IsExist(err) {
		return "", errors.WithMessagef(err, "session: failed to create machine symlink %s", link)
	}
	return target, nil
}

// refreshFriendlySymlink (re)creates a human-readable alias in machines/
// pointing at the machine UUID. Components are joined env-service-unit,
// prefixing rather than overwriting unit_name - the canonical behavior per
// the latest revision of this logic (earlier revisions overwrote it).
func (e *Engine) refreshFriendlySymlink(machineUUID, unitName, serviceName, environmentName string) {
	parts := []string{}
	if environmentName != "" {
		parts = append(parts, sanitizeSymlinkComponent(environmentName))
	}
	if serviceName != "" {
		parts = append(parts, sanitizeSymlinkComponent(serviceName))
	}
	parts = append(parts, sanitizeSymlinkComponent(unitName))
	friendly := strings.Join(parts, "-")

	link := filepath.Join(e.Config.VarDir, "machines", friendly)
	_ = os.Remove(link)
	if err := os.Symlink(machineUUID, link); err != nil {
		log.WithField("uuid", machineUUID).WithError(err).Warn("session: failed to refresh friendly symlink")
	}
}

func sanitizeSymlinkComponent(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}

// runSource drives one source's sync+commit+retention cycle and always
// returns a sourceResult - failures here are reported, never propagated,
// so one bad source never blocks the rest of the session.
func (e *Engine) runSource(ctx context.Context, logger log.Interface, machineDir, name string, desc sourceDescriptor, port int, username, password string) sourceResult {
	begin := time.Now()
	res := sourceResult{TimeBegin: begin.UTC().Format(time.RFC3339)}

	mode := e.Config.SnapshotMode
	if desc.SnapshotMode != "" {
		mode = desc.SnapshotMode
	} else if mode == "link-dest" && (desc.LargeRotatingFiles || desc.LargeModifyingFiles) {
		mode = "none"
	}

	sourceDir := filepath.Join(machineDir, name)
	snapshotsDir := filepath.Join(machineDir, name+".snapshots")

	var baseSnapshot string
	if mode == "link-dest" {
		if err := os.MkdirAll(snapshotsDir, 0o755); err != nil {
			res.Summary = fmt.Sprintf("failed to prepare snapshots directory: %s", err)
			res.TimeEnd = time.Now().UTC().Format(time.RFC3339)
			return res
		}
		if latest, err := os.Readlink(filepath.Join(snapshotsDir, "latest")); err == nil {
			baseSnapshot = filepath.Join(snapshotsDir, latest)
		}
	}

	args, cleanup, err := buildSyncArgs(sourceDir, baseSnapshot, mode, e.Config.PreserveHardLinks, desc, username, port, name)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		res.Summary = fmt.Sprintf("failed to build sync command: %s", err)
		res.TimeEnd = time.Now().UTC().Format(time.RFC3339)
		return res
	}

	exitCode, runErr := runSync(ctx, logger, args, password)
	res.TimeEnd = time.Now().UTC().Format(time.RFC3339)

	if runErr != nil {
		res.Summary = fmt.Sprintf("rsync failed to start: %s", runErr)
		return res
	}
	if exitCode != 0 && exitCode != 24 {
		res.Success = false
		res.Summary = fmt.Sprintf("rsync exited with return code %d", exitCode)
		return res
	}

	res.Success = true
	if exitCode == 24 {
		res.Summary = "completed with some files vanishing during transfer (exit 24)"
	} else {
		res.Summary = "completed"
	}

	if mode == "link-dest" {
		snapshotName, err := e.commitSnapshot(logger, sourceDir, snapshotsDir, desc.Retention)
		if err != nil {
			res.Summary = fmt.Sprintf("sync succeeded but commit failed: %s", err)
			return res
		}
		res.Snapshot = snapshotName
	}

	return res
}

// commitSnapshot renames the working tree to a timestamp-named snapshot,
// refreshes the latest symlink, and evaluates retention. It is atomic at
// directory-rename granularity: no partial snapshot is ever visible under
// a timestamp name.
func (e *Engine) commitSnapshot(logger log.Interface, sourceDir, snapshotsDir, retentionStr string) (string, error) {
	loc, err := time.LoadLocation(e.Config.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	name := now.Format("2006-01-02T15:04:05.999999")
	dest := filepath.Join(snapshotsDir, name)

	if err := os.Rename(sourceDir, dest); err != nil {
		return "", errors.WithMessagef(err, "session: failed to commit snapshot %s", dest)
	}

	latestLink := filepath.Join(snapshotsDir, "latest")
	_ = os.Remove(latestLink)
	if err := os.Symlink(name, latestLink); err != nil {
		logger.WithError(err).Warn("session: failed to refresh latest symlink")
	}

	if retentionStr != "" {
		e.pruneSnapshots(logger, snapshotsDir, retentionStr, loc)
	}

	return name, nil
}

// pruneSnapshots evaluates the retention directive and removes whatever it
// selects for deletion. Each selected snapshot is first renamed to
// "_delete-<name>" so a crash mid-delete never leaves a timestamp-named
// partial directory behind for retention to misinterpret later.
func (e *Engine) pruneSnapshots(logger log.Interface, snapshotsDir, retentionStr string, loc *time.Location) {
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		logger.WithError(err).Warn("session: failed to list snapshots for retention")
		return
	}

	var names []string
	for _, e := range entries {
		if e.Name() == "latest" {
			continue
		}
		names = append(names, e.Name())
	}

	toDelete := retention.SnapshotsToDelete(retentionStr, names, time.Now().In(loc), loc)
	for _, n := range toDelete {
		src := filepath.Join(snapshotsDir, n)
		staged := filepath.Join(snapshotsDir, "_delete-"+n)
		if err := os.Rename(src, staged); err != nil {
			logger.WithField("snapshot", n).WithError(err).Warn("session: failed to stage snapshot for deletion")
			continue
		}
		if err := os.RemoveAll(staged); err != nil {
			logger.WithField("snapshot", n).WithError(err).Warn("session: failed to remove staged snapshot")
		}
	}
}
