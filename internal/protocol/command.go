// ABOUTME: Closed set of command payload kinds the coordinator can dispatch.
// ABOUTME: Tagged {cmd_type, args} JSON encoding with exhaustive decoding.

package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandKind tags a command payload on the wire.
type CommandKind string

const (
	KindShellExec        CommandKind = "shell_exec"
	KindChangeDir        CommandKind = "change_dir"
	KindListDir          CommandKind = "list_dir"
	KindReadFile         CommandKind = "read_file"
	KindWriteFile        CommandKind = "write_file"
	KindDownloadFile     CommandKind = "download_file"
	KindUploadFile       CommandKind = "upload_file"
	KindDownloadAndUnzip CommandKind = "download_and_unzip"
	KindZipAndUpload     CommandKind = "zip_and_upload"
	KindGetHardwareInfo  CommandKind = "get_hardware_info"
	KindUpdateAgent      CommandKind = "update_agent"
)

// Payload is the sealed interface implemented by every command kind.
// The unexported method keeps the variant set closed to this package.
type Payload interface {
	Kind() CommandKind
	sealedPayload()
}

// ShellExec runs a command with arguments in the agent's working directory.
type ShellExec struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

// ChangeDir changes the agent's working directory.
type ChangeDir struct {
	Path string `json:"path"`
}

// ListDir lists the entries of a directory on the agent.
type ListDir struct {
	Path string `json:"path"`
}

// ReadFile reads a text file from the agent.
type ReadFile struct {
	Path string `json:"path"`
}

// WriteFile writes content to a file on the agent.
type WriteFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DownloadFile tells the agent to pull a file from the given URL.
type DownloadFile struct {
	URL      string `json:"url"`
	DestPath string `json:"dest_path"`
}

// UploadFile tells the agent to push a local file to the given URL.
type UploadFile struct {
	SrcPath   string `json:"src_path"`
	UploadURL string `json:"upload_url"`
}

// DownloadAndUnzip tells the agent to pull a zip archive and extract it.
type DownloadAndUnzip struct {
	URL      string `json:"url"`
	DestPath string `json:"dest_path"`
}

// ZipAndUpload tells the agent to zip a directory tree and push the archive.
type ZipAndUpload struct {
	SrcPath   string `json:"src_path"`
	UploadURL string `json:"upload_url"`
}

// GetHardwareInfo asks the agent for a hardware telemetry snapshot.
type GetHardwareInfo struct{}

// UpdateAgent tells the agent to replace its own binary from the given URL.
type UpdateAgent struct {
	URL string `json:"url"`
}

func (ShellExec) Kind() CommandKind        { return KindShellExec }
func (ChangeDir) Kind() CommandKind        { return KindChangeDir }
func (ListDir) Kind() CommandKind          { return KindListDir }
func (ReadFile) Kind() CommandKind         { return KindReadFile }
func (WriteFile) Kind() CommandKind        { return KindWriteFile }
func (DownloadFile) Kind() CommandKind     { return KindDownloadFile }
func (UploadFile) Kind() CommandKind       { return KindUploadFile }
func (DownloadAndUnzip) Kind() CommandKind { return KindDownloadAndUnzip }
func (ZipAndUpload) Kind() CommandKind     { return KindZipAndUpload }
func (GetHardwareInfo) Kind() CommandKind  { return KindGetHardwareInfo }
func (UpdateAgent) Kind() CommandKind      { return KindUpdateAgent }

func (ShellExec) sealedPayload()        {}
func (ChangeDir) sealedPayload()        {}
func (ListDir) sealedPayload()          {}
func (ReadFile) sealedPayload()         {}
func (WriteFile) sealedPayload()        {}
func (DownloadFile) sealedPayload()     {}
func (UploadFile) sealedPayload()       {}
func (DownloadAndUnzip) sealedPayload() {}
func (ZipAndUpload) sealedPayload()     {}
func (GetHardwareInfo) sealedPayload()  {}
func (UpdateAgent) sealedPayload()      {}

// payloadWire is the on-the-wire shape of a command payload.
type payloadWire struct {
	Kind CommandKind     `json:"cmd_type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// MarshalPayload encodes a payload in its tagged wire form.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil command payload")
	}
	args, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s args: %w", p.Kind(), err)
	}
	return json.Marshal(payloadWire{Kind: p.Kind(), Args: args})
}

// UnmarshalPayload decodes a tagged wire payload into its concrete kind.
// Unknown kinds are an error so new kinds cannot slip past consumers silently.
func UnmarshalPayload(data []byte) (Payload, error) {
	var w payloadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding command payload: %w", err)
	}

	var p Payload
	switch w.Kind {
	case KindShellExec:
		p = &ShellExec{}
	case KindChangeDir:
		p = &ChangeDir{}
	case KindListDir:
		p = &ListDir{}
	case KindReadFile:
		p = &ReadFile{}
	case KindWriteFile:
		p = &WriteFile{}
	case KindDownloadFile:
		p = &DownloadFile{}
	case KindUploadFile:
		p = &UploadFile{}
	case KindDownloadAndUnzip:
		p = &DownloadAndUnzip{}
	case KindZipAndUpload:
		p = &ZipAndUpload{}
	case KindGetHardwareInfo:
		p = &GetHardwareInfo{}
	case KindUpdateAgent:
		p = &UpdateAgent{}
	default:
		return nil, fmt.Errorf("unknown command kind %q", w.Kind)
	}

	if len(w.Args) > 0 {
		if err := json.Unmarshal(w.Args, p); err != nil {
			return nil, fmt.Errorf("decoding %s args: %w", w.Kind, err)
		}
	}
	return deref(p), nil
}

// deref returns the value form so payloads compare and type-switch by value.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ShellExec:
		return *v
	case *ChangeDir:
		return *v
	case *ListDir:
		return *v
	case *ReadFile:
		return *v
	case *WriteFile:
		return *v
	case *DownloadFile:
		return *v
	case *UploadFile:
		return *v
	case *DownloadAndUnzip:
		return *v
	case *ZipAndUpload:
		return *v
	case *GetHardwareInfo:
		return *v
	case *UpdateAgent:
		return *v
	default:
		return p
	}
}
