package session

import "sync/atomic"

// PrivacyState tracks the host's black-screen and input-blocking toggles.
// A real overlay window and low-level keyboard hook are platform-specific
// (see original_source/privacy.rs's Windows-only overlay/hook code); this
// struct carries the state every platform can share and is where a
// platform backend would hook in the actual overlay/block calls.
type PrivacyState struct {
	blackScreen  atomic.Bool
	inputBlocked atomic.Bool
}

func (p *PrivacyState) EnableBlackScreen()  { p.blackScreen.Store(true) }
func (p *PrivacyState) DisableBlackScreen() { p.blackScreen.Store(false) }
func (p *PrivacyState) BlockInput()         { p.inputBlocked.Store(true) }
func (p *PrivacyState) UnblockInput()       { p.inputBlocked.Store(false) }

func (p *PrivacyState) DisableAll() {
	p.DisableBlackScreen()
	p.UnblockInput()
}

func (p *PrivacyState) IsBlackScreenActive() bool { return p.blackScreen.Load() }
func (p *PrivacyState) IsInputBlocked() bool      { return p.inputBlocked.Load() }

// StatusAck builds a Privacy(STATUS_ACK) payload reflecting the current state.
func (p *PrivacyState) StatusAck() []byte {
	return []byte{PrivacyStatusAck, boolByte(p.IsBlackScreenActive()), boolByte(p.IsInputBlocked())}
}
