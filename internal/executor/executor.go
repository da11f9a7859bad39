// ABOUTME: Agent-side command executor: maps each command payload kind to a result.
// ABOUTME: Failures become Error results; a command never takes the agent down.

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/transfer"
)

// shellTimeout bounds a single shell execution so a hung command cannot
// wedge the agent's command loop forever.
const shellTimeout = 5 * time.Minute

// Outcome is what executing one command produces: the result to send back,
// and whether the process should exit once the reply is on the wire.
type Outcome struct {
	Result  protocol.Result
	Restart bool
}

// Executor executes command payloads on the local machine. It carries the
// agent's working directory, which change_dir mutates and every relative
// path resolves against.
type Executor struct {
	workDir string
	files   *Transferer
	logger  *slog.Logger
}

// New creates an Executor rooted at the process's current directory.
func New(logger *slog.Logger) (*Executor, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	return &Executor{
		workDir: wd,
		files:   NewTransferer(logger),
		logger:  logger,
	}, nil
}

// WorkDir returns the executor's current working directory.
func (e *Executor) WorkDir() string {
	return e.workDir
}

// Execute runs one command payload to completion. It never returns a Go
// error: every failure is folded into a protocol.Error result so the
// coordinator always gets a reply for its correlation ID.
func (e *Executor) Execute(ctx context.Context, p protocol.Payload) Outcome {
	e.logger.Info("executing command", "kind", p.Kind())

	switch v := p.(type) {
	case protocol.ShellExec:
		return Outcome{Result: e.shellExec(ctx, v)}
	case protocol.ChangeDir:
		return Outcome{Result: e.changeDir(v.Path)}
	case protocol.ListDir:
		return Outcome{Result: e.listDir(v.Path)}
	case protocol.ReadFile:
		return Outcome{Result: e.readFile(v.Path)}
	case protocol.WriteFile:
		return Outcome{Result: e.writeFile(v)}
	case protocol.DownloadFile:
		return Outcome{Result: e.downloadFile(ctx, v)}
	case protocol.UploadFile:
		return Outcome{Result: e.uploadFile(ctx, v)}
	case protocol.DownloadAndUnzip:
		return Outcome{Result: e.downloadAndUnzip(ctx, v)}
	case protocol.ZipAndUpload:
		return Outcome{Result: e.zipAndUpload(ctx, v)}
	case protocol.GetHardwareInfo:
		return Outcome{Result: e.hardwareInfo()}
	case protocol.UpdateAgent:
		result, restart := e.updateAgent(ctx, v)
		return Outcome{Result: result, Restart: restart}
	default:
		return Outcome{Result: protocol.Error{Message: fmt.Sprintf("unsupported command kind %q", p.Kind())}}
	}
}

// shellExec runs a command and captures its output. "cd" is intercepted and
// handled as a working-directory change, since a child process cannot change
// the agent's directory.
func (e *Executor) shellExec(ctx context.Context, v protocol.ShellExec) protocol.Result {
	if v.Cmd == "cd" {
		if len(v.Args) != 1 {
			return protocol.Error{Message: "cd takes exactly one argument"}
		}
		return e.changeDir(v.Args[0])
	}

	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.Cmd, v.Args...)
	cmd.Dir = e.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// The command never ran (not found, permission, timeout).
			return protocol.Error{Message: fmt.Sprintf("running %s: %v", v.Cmd, err)}
		}
	}

	return protocol.ShellOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

func (e *Executor) changeDir(path string) protocol.Result {
	target := e.resolve(path)
	info, err := os.Stat(target)
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("changing directory: %v", err)}
	}
	if !info.IsDir() {
		return protocol.Error{Message: fmt.Sprintf("%s is not a directory", target)}
	}
	e.workDir = target
	return protocol.DirChanged{NewPath: target}
}

func (e *Executor) listDir(path string) protocol.Result {
	target := e.resolve(path)
	entries, err := os.ReadDir(target)
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("listing %s: %v", target, err)}
	}

	files := make([]protocol.FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi := protocol.FileInfo{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			fi.Size = uint64(info.Size())
		}
		files = append(files, fi)
	}
	return protocol.FileList{Files: files}
}

func (e *Executor) readFile(path string) protocol.Result {
	target := e.resolve(path)
	data, err := os.ReadFile(target)
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("reading %s: %v", target, err)}
	}
	return protocol.FileContent{Content: string(data)}
}

func (e *Executor) writeFile(v protocol.WriteFile) protocol.Result {
	target := e.resolve(v.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return protocol.Error{Message: fmt.Sprintf("creating parent directory: %v", err)}
	}
	if err := os.WriteFile(target, []byte(v.Content), 0644); err != nil {
		return protocol.Error{Message: fmt.Sprintf("writing %s: %v", target, err)}
	}
	return protocol.Success{Message: fmt.Sprintf("Wrote %d bytes to %s", len(v.Content), target)}
}

func (e *Executor) downloadFile(ctx context.Context, v protocol.DownloadFile) protocol.Result {
	target := e.resolve(v.DestPath)
	if err := e.files.Download(ctx, v.URL, target); err != nil {
		return protocol.Error{Message: err.Error()}
	}
	return protocol.Success{Message: fmt.Sprintf("Downloaded to %s", target)}
}

func (e *Executor) uploadFile(ctx context.Context, v protocol.UploadFile) protocol.Result {
	src := e.resolve(v.SrcPath)
	if err := e.files.Upload(ctx, src, v.UploadURL); err != nil {
		return protocol.Error{Message: err.Error()}
	}
	return protocol.Success{Message: fmt.Sprintf("Uploaded %s", src)}
}

func (e *Executor) downloadAndUnzip(ctx context.Context, v protocol.DownloadAndUnzip) protocol.Result {
	tmp, err := os.CreateTemp("", "drover-dl-*.zip")
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("creating temp file: %v", err)}
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := e.files.Download(ctx, v.URL, tmp.Name()); err != nil {
		return protocol.Error{Message: err.Error()}
	}

	dest := e.resolve(v.DestPath)
	if err := transfer.Unzip(tmp.Name(), dest); err != nil {
		return protocol.Error{Message: fmt.Sprintf("extracting archive: %v", err)}
	}
	return protocol.Success{Message: fmt.Sprintf("Extracted archive into %s", dest)}
}

func (e *Executor) zipAndUpload(ctx context.Context, v protocol.ZipAndUpload) protocol.Result {
	src := e.resolve(v.SrcPath)

	tmp, err := os.CreateTemp("", "drover-ul-*.zip")
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("creating temp file: %v", err)}
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := transfer.ZipDir(src, tmp.Name()); err != nil {
		return protocol.Error{Message: fmt.Sprintf("zipping %s: %v", src, err)}
	}

	// Upload under the source directory's name so the inbox entry is
	// recognizable, not a temp file name.
	name := filepath.Base(src) + ".zip"
	if err := e.files.UploadAs(ctx, tmp.Name(), name, v.UploadURL); err != nil {
		return protocol.Error{Message: err.Error()}
	}
	return protocol.Success{Message: fmt.Sprintf("Uploaded archive of %s", src)}
}

func (e *Executor) hardwareInfo() protocol.Result {
	info := protocol.HardwareInfo{Platform: runtime.GOOS}

	// Sampled over a second; the caller's poll interval absorbs the wait.
	if percentages, err := cpu.Percent(time.Second, false); err == nil && len(percentages) > 0 {
		info.CPUUsage = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
		info.UsedMemory = vm.Used
	}
	return info
}

// updateAgent downloads a replacement binary over the running executable.
// On success the caller must exit after sending the reply; the supervisor
// restarts the new binary.
func (e *Executor) updateAgent(ctx context.Context, v protocol.UpdateAgent) (protocol.Result, bool) {
	exe, err := os.Executable()
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("locating executable: %v", err)}, false
	}

	staged := exe + ".new"
	if err := e.files.Download(ctx, v.URL, staged); err != nil {
		return protocol.Error{Message: err.Error()}, false
	}
	if err := os.Chmod(staged, 0755); err != nil {
		os.Remove(staged)
		return protocol.Error{Message: fmt.Sprintf("marking new binary executable: %v", err)}, false
	}

	// Move the running binary aside first; renaming over a running
	// executable fails on some platforms.
	old := exe + ".old"
	os.Remove(old)
	if err := os.Rename(exe, old); err != nil {
		os.Remove(staged)
		return protocol.Error{Message: fmt.Sprintf("moving current binary aside: %v", err)}, false
	}
	if err := os.Rename(staged, exe); err != nil {
		// Put the original back so the agent keeps running.
		os.Rename(old, exe)
		return protocol.Error{Message: fmt.Sprintf("installing new binary: %v", err)}, false
	}

	e.logger.Info("agent binary replaced, restarting", "url", v.URL)
	return protocol.Success{Message: "Update installed, restarting"}, true
}

// resolve makes a path absolute against the working directory.
func (e *Executor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workDir, path)
}
