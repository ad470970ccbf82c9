package devserver

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/hotpatch/internal/hotfn"
)

// Type is the discriminator of a frame.
type Type string

// Frame types.
const (
	TypeHotReload         Type = "hot_reload"
	TypeHotPatchStart     Type = "hot_patch_start"
	TypeFullReloadStart   Type = "full_reload_start"
	TypeFullReloadFailed  Type = "full_reload_failed"
	TypeFullReloadCommand Type = "full_reload_command"
	TypeShutdown          Type = "shutdown"
)

// Message is one decoded frame.
type Message struct {
	Type       Type             `json:"type"`
	JumpTable  *hotfn.JumpTable `json:"jump_table,omitempty"`
	ForPID     *int             `json:"for_pid,omitempty"`
	ForBuildID *uint64          `json:"for_build_id,omitempty"`
	MsElapsed  uint64           `json:"ms_elapsed,omitempty"`
}

// HotReload builds a hot_reload frame carrying jt.
func HotReload(jt hotfn.JumpTable) Message {
	return Message{Type: TypeHotReload, JumpTable: &jt}
}

// IsHotReload reports whether m is a hot_reload frame.
func (m Message) IsHotReload() bool {
	return m.Type == TypeHotReload
}

// HasJumpTable reports whether m carries a jump table.
func (m Message) HasJumpTable() bool {
	return m.JumpTable != nil
}

// Targets reports whether m applies to the process with the given pid.
// Frames without for_pid apply to every process.
func (m Message) Targets(pid int) bool {
	return m.ForPID == nil || *m.ForPID == pid
}

// Encode writes m as one frame.
func Encode(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
