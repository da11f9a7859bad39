// ABOUTME: Closed set of command result kinds an agent can return.
// ABOUTME: Tagged {status, data} JSON encoding; Error substitutes for any kind.

package protocol

import (
	"encoding/json"
	"fmt"
)

// ResultStatus tags a command result on the wire.
type ResultStatus string

const (
	StatusShellOutput  ResultStatus = "shell_output"
	StatusDirChanged   ResultStatus = "dir_changed"
	StatusFileList     ResultStatus = "file_list"
	StatusFileContent  ResultStatus = "file_content"
	StatusHardwareInfo ResultStatus = "hardware_info"
	StatusSuccess      ResultStatus = "success"
	StatusError        ResultStatus = "error"
)

// Result is the sealed interface implemented by every result kind.
type Result interface {
	Status() ResultStatus
	sealedResult()
}

// ShellOutput is the result of a shell execution.
type ShellOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// DirChanged confirms a working-directory change.
type DirChanged struct {
	NewPath string `json:"new_path"`
}

// FileInfo describes one directory entry.
type FileInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  uint64 `json:"size"`
}

// FileList is the result of a directory listing.
type FileList struct {
	Files []FileInfo `json:"files"`
}

// FileContent is the result of a file read.
type FileContent struct {
	Content string `json:"content"`
}

// HardwareInfo is a point-in-time hardware telemetry snapshot.
type HardwareInfo struct {
	CPUUsage    float64 `json:"cpu_usage"`
	TotalMemory uint64  `json:"total_memory"`
	UsedMemory  uint64  `json:"used_memory"`
	Platform    string  `json:"platform"`
}

// Success is a generic confirmation with a human-readable message.
type Success struct {
	Message string
}

// Error is the generic failure variant; any command kind may return it in
// place of its matching result.
type Error struct {
	Message string
}

func (ShellOutput) Status() ResultStatus  { return StatusShellOutput }
func (DirChanged) Status() ResultStatus   { return StatusDirChanged }
func (FileList) Status() ResultStatus     { return StatusFileList }
func (FileContent) Status() ResultStatus  { return StatusFileContent }
func (HardwareInfo) Status() ResultStatus { return StatusHardwareInfo }
func (Success) Status() ResultStatus      { return StatusSuccess }
func (Error) Status() ResultStatus        { return StatusError }

func (ShellOutput) sealedResult()  {}
func (DirChanged) sealedResult()   {}
func (FileList) sealedResult()     {}
func (FileContent) sealedResult()  {}
func (HardwareInfo) sealedResult() {}
func (Success) sealedResult()      {}
func (Error) sealedResult()        {}

// resultWire is the on-the-wire shape of a command result. Success and Error
// carry a bare string as data; the rest carry an object.
type resultWire struct {
	Status ResultStatus    `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MarshalResult encodes a result in its tagged wire form.
func MarshalResult(r Result) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil command result")
	}

	var body any = r
	switch v := r.(type) {
	case Success:
		body = v.Message
	case Error:
		body = v.Message
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s data: %w", r.Status(), err)
	}
	return json.Marshal(resultWire{Status: r.Status(), Data: data})
}

// UnmarshalResult decodes a tagged wire result into its concrete kind.
func UnmarshalResult(data []byte) (Result, error) {
	var w resultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding command result: %w", err)
	}

	switch w.Status {
	case StatusShellOutput:
		var r ShellOutput
		return r, decodeData(w, &r)
	case StatusDirChanged:
		var r DirChanged
		return r, decodeData(w, &r)
	case StatusFileList:
		var r FileList
		return r, decodeData(w, &r)
	case StatusFileContent:
		var r FileContent
		return r, decodeData(w, &r)
	case StatusHardwareInfo:
		var r HardwareInfo
		return r, decodeData(w, &r)
	case StatusSuccess:
		msg, err := decodeMessage(w)
		return Success{Message: msg}, err
	case StatusError:
		msg, err := decodeMessage(w)
		return Error{Message: msg}, err
	default:
		return nil, fmt.Errorf("unknown result status %q", w.Status)
	}
}

func decodeMessage(w resultWire) (string, error) {
	if len(w.Data) == 0 {
		return "", nil
	}
	var msg string
	if err := json.Unmarshal(w.Data, &msg); err != nil {
		return "", fmt.Errorf("decoding %s data: %w", w.Status, err)
	}
	return msg, nil
}

func decodeData(w resultWire, dst any) error {
	if len(w.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(w.Data, dst); err != nil {
		return fmt.Errorf("decoding %s data: %w", w.Status, err)
	}
	return nil
}
