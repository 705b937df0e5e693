package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the startup sequence.
type Displayer interface {
	Banner()
	CredentialsFound()
	CredentialsNotFound()
	CredentialValid(expiresIn time.Duration)
	Minting()
	MintOK()
	MintFallback()
	Retrying(op string, attempt int, err error)
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	Saved(path string)
	SaveFailed(err error)
	RoutingLoaded(configured, total int)
	DecisionsRecovered(resumed, expired int)
	Connecting()
	Ready(preview string, accessExpiresIn, refreshExpiresIn time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, containers).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== ringbot ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) CredentialsFound() {
	fmt.Fprintln(p.w, "Found persisted credentials")
}

func (p *PlainDisplayer) CredentialsNotFound() {
	fmt.Fprintln(p.w, "No usable credentials on disk, minting...")
}

func (p *PlainDisplayer) CredentialValid(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Access token is still valid for %s\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) Minting() {
	fmt.Fprintln(p.w, "Minting credentials from the bot identity...")
}

func (p *PlainDisplayer) MintOK() {
	fmt.Fprintln(p.w, "Credentials minted")
}

func (p *PlainDisplayer) MintFallback() {
	fmt.Fprintln(p.w, "Warning: minting failed, using persisted credentials")
}

func (p *PlainDisplayer) Retrying(op string, attempt int, err error) {
	fmt.Fprintf(p.w, "%s attempt %d failed: %v, retrying...\n", op, attempt, err)
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Access token expired, refreshing...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Credentials refreshed")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
	fmt.Fprintln(p.w, "Minting new credentials...")
}

func (p *PlainDisplayer) Saved(path string) {
	fmt.Fprintf(p.w, "Credentials saved to %s\n", path)
}

func (p *PlainDisplayer) SaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: failed to save credentials: %v\n", err)
}

func (p *PlainDisplayer) RoutingLoaded(configured, total int) {
	fmt.Fprintf(p.w, "Notification channels: %d of %d configured\n", configured, total)
}

func (p *PlainDisplayer) DecisionsRecovered(resumed, expired int) {
	fmt.Fprintf(p.w, "Pending decisions: %d resumed, %d expired\n", resumed, expired)
}

func (p *PlainDisplayer) Connecting() {
	fmt.Fprintln(p.w, "Connecting to Discord...")
}

func (p *PlainDisplayer) Ready(preview string, accessExpiresIn, refreshExpiresIn time.Duration) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Bot is running")
	fmt.Fprintf(p.w, "Access Token: %s\n", preview)
	fmt.Fprintf(p.w, "Access Expires In: %s\n", accessExpiresIn.Round(time.Second))
	fmt.Fprintf(p.w, "Refresh Expires In: %s\n", refreshExpiresIn.Round(time.Second))
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                            {}
func (NoopDisplayer) CredentialsFound()                  {}
func (NoopDisplayer) CredentialsNotFound()               {}
func (NoopDisplayer) CredentialValid(_ time.Duration)    {}
func (NoopDisplayer) Minting()                           {}
func (NoopDisplayer) MintOK()                            {}
func (NoopDisplayer) MintFallback()                      {}
func (NoopDisplayer) Retrying(_ string, _ int, _ error)  {}
func (NoopDisplayer) Refreshing()                        {}
func (NoopDisplayer) RefreshOK()                         {}
func (NoopDisplayer) RefreshFailed(_ error)              {}
func (NoopDisplayer) Saved(_ string)                     {}
func (NoopDisplayer) SaveFailed(_ error)                 {}
func (NoopDisplayer) RoutingLoaded(_, _ int)             {}
func (NoopDisplayer) DecisionsRecovered(_, _ int)        {}
func (NoopDisplayer) Connecting()                        {}
func (NoopDisplayer) Ready(_ string, _, _ time.Duration) {}
func (NoopDisplayer) Fatal(_ error)                      {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) CredentialsFound() {
	t.p.Send(MsgCredentialsFound{})
}

func (t *ProgramDisplayer) CredentialsNotFound() {
	t.p.Send(MsgCredentialsNotFound{})
}

func (t *ProgramDisplayer) CredentialValid(expiresIn time.Duration) {
	t.p.Send(MsgCredentialValid{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Minting() {
	t.p.Send(MsgMinting{})
}

func (t *ProgramDisplayer) MintOK() {
	t.p.Send(MsgMintOK{})
}

func (t *ProgramDisplayer) MintFallback() {
	t.p.Send(MsgMintFallback{})
}

func (t *ProgramDisplayer) Retrying(op string, attempt int, err error) {
	t.p.Send(MsgRetrying{Op: op, Attempt: attempt, Err: err})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) Saved(path string) {
	t.p.Send(MsgSaved{Path: path})
}

func (t *ProgramDisplayer) SaveFailed(err error) {
	t.p.Send(MsgSaveFailed{Err: err})
}

func (t *ProgramDisplayer) RoutingLoaded(configured, total int) {
	t.p.Send(MsgRoutingLoaded{Configured: configured, Total: total})
}

func (t *ProgramDisplayer) DecisionsRecovered(resumed, expired int) {
	t.p.Send(MsgDecisionsRecovered{Resumed: resumed, Expired: expired})
}

func (t *ProgramDisplayer) Connecting() {
	t.p.Send(MsgConnecting{})
}

func (t *ProgramDisplayer) Ready(preview string, accessExpiresIn, refreshExpiresIn time.Duration) {
	t.p.Send(MsgReady{
		Preview:          preview,
		AccessExpiresIn:  accessExpiresIn,
		RefreshExpiresIn: refreshExpiresIn,
	})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
