package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/internal/version"
	"pkt.systems/snipline/schema"
)

// listLimit caps /list and /search output.
const listLimit = 20

// Runtime is the page runtime commands act on. core.Runtime satisfies it.
type Runtime interface {
	Page() schema.PageID
	Client() *channel.Client
	Refresh(ctx context.Context) error
	Settings() schema.Settings
	User() *schema.User
	SetEnabled(ctx context.Context, enabled bool) (schema.Settings, error)
	SetMode(ctx context.Context, mode schema.Mode) (schema.Settings, error)
	Picker(query string) []schema.Shortcut
}

// Output receives the lines a command prints.
type Output interface {
	AppendLines(lines ...string)
}

// HandlerConfig configures slash command behavior.
type HandlerConfig struct {
	DisableAuditLogging bool
}

// Handler routes slash commands to supervisor actions.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler constructs a command handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// Handle inspects input and executes slash commands. It reports false when
// input is not a command.
func (h *Handler) Handle(ctx context.Context, rt Runtime, out Output, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	if rt == nil || out == nil {
		return false, errors.New("missing runtime")
	}
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	log := logx.WithPage(ctx, rt.Page()).With("command", cmd.Name, "args", len(cmd.Args))
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command_type", "slash", "command", Redact(cmd))
	}
	log.Info("command slash request")
	var err error
	switch cmd.Name {
	case "":
		err = errors.New("invalid command")
	case "help", "?":
		out.AppendLines(helpLines()...)
	case "login":
		err = h.handleLogin(ctx, rt, out, cmd)
	case "logout":
		err = h.handleLogout(ctx, rt, out)
	case "sync":
		err = h.handleSync(ctx, rt, out)
	case "list", "ls":
		h.handleList(rt, out, cmd)
	case "find":
		err = h.handleFind(ctx, rt, out, cmd)
	case "search":
		err = h.handleSearch(ctx, rt, out, cmd)
	case "toggle":
		err = h.handleToggle(ctx, rt, out, cmd)
	case "mode":
		err = h.handleMode(ctx, rt, out, cmd)
	case "status":
		h.handleStatus(rt, out)
	case "version":
		out.AppendLines(schema.HeaderMarker+"About", version.Summary(), "")
	default:
		log.Warn("command slash rejected", "reason", "unknown")
		return true, fmt.Errorf("unknown command: /%s", cmd.Name)
	}
	if err != nil {
		log.Warn("command slash failed", "err", err)
		return true, err
	}
	log.Debug("command slash completed")
	return true, nil
}

// Redact returns the command text safe for logs.
func Redact(cmd Command) string {
	if cmd.Name == "login" && len(cmd.Args) > 1 {
		return "/login " + cmd.Args[0] + " ***"
	}
	return "/" + cmd.Raw
}

func (h *Handler) handleLogin(ctx context.Context, rt Runtime, out Output, cmd Command) error {
	if len(cmd.Args) < 2 {
		return errors.New("usage: /login <username> <password>")
	}
	password := cmd.Rest(1)
	resp, err := channel.Call[schema.LoginResponse](ctx, rt.Client(), schema.LoginRequest{Username: cmd.Args[0], Password: password}, 0)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "login failed"
		}
		return errors.New(resp.Error)
	}
	if err := rt.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after login: %w", err)
	}
	out.AppendLines(fmt.Sprintf(schema.StatusMarker+"signed in as %s (%d shortcuts)", displayName(resp.User), len(rt.Picker(""))))
	return nil
}

func (h *Handler) handleLogout(ctx context.Context, rt Runtime, out Output) error {
	if _, err := channel.Call[schema.LogoutResponse](ctx, rt.Client(), schema.LogoutRequest{}, 0); err != nil {
		return err
	}
	if err := rt.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after logout: %w", err)
	}
	out.AppendLines(schema.StatusMarker + "signed out")
	return nil
}

func (h *Handler) handleSync(ctx context.Context, rt Runtime, out Output) error {
	resp, err := channel.Call[schema.SyncNowResponse](ctx, rt.Client(), schema.SyncNowRequest{}, syncTimeout)
	if err != nil {
		if errors.Is(err, schema.ErrAuth) {
			return errors.New("not signed in; use /login")
		}
		return err
	}
	if err := rt.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after sync: %w", err)
	}
	out.AppendLines(fmt.Sprintf(schema.StatusMarker+"synced %d shortcuts", resp.Count))
	return nil
}

// syncTimeout bounds /sync, which waits on the backend.
const syncTimeout = 20 * time.Second

func (h *Handler) handleList(rt Runtime, out Output, cmd Command) {
	list := rt.Picker(cmd.Remainder)
	if len(list) == 0 {
		out.AppendLines(schema.StatusMarker + "no shortcuts")
		return
	}
	out.AppendLines(schema.HeaderMarker + "Shortcuts")
	out.AppendLines(formatShortcuts(list)...)
}

func (h *Handler) handleFind(ctx context.Context, rt Runtime, out Output, cmd Command) error {
	if len(cmd.Args) != 1 {
		return errors.New("usage: /find <trigger>")
	}
	resp, err := channel.Call[schema.FindByTriggerResponse](ctx, rt.Client(), schema.FindByTriggerRequest{Trigger: cmd.Args[0]}, 0)
	if err != nil {
		return err
	}
	if resp.Shortcut == nil || !resp.Shortcut.IsActive {
		out.AppendLines(schema.StatusMarker + "no shortcut for " + cmd.Args[0])
		return nil
	}
	out.AppendLines(formatShortcuts([]schema.Shortcut{*resp.Shortcut})...)
	return nil
}

func (h *Handler) handleSearch(ctx context.Context, rt Runtime, out Output, cmd Command) error {
	if cmd.Remainder == "" {
		return errors.New("usage: /search <query>")
	}
	resp, err := channel.Call[schema.SearchByTextResponse](ctx, rt.Client(), schema.SearchByTextRequest{Query: cmd.Remainder}, 0)
	if err != nil {
		return err
	}
	results := schema.ActiveOnly(resp.Results)
	if len(results) == 0 {
		out.AppendLines(schema.StatusMarker + "nothing matches " + cmd.Remainder)
		return nil
	}
	out.AppendLines(schema.HeaderMarker + "Search")
	out.AppendLines(formatShortcuts(results)...)
	return nil
}

func (h *Handler) handleToggle(ctx context.Context, rt Runtime, out Output, cmd Command) error {
	enabled := !rt.Settings().Enabled
	if len(cmd.Args) > 0 {
		switch strings.ToLower(cmd.Args[0]) {
		case "on", "true", "enable":
			enabled = true
		case "off", "false", "disable":
			enabled = false
		default:
			return errors.New("usage: /toggle [on|off]")
		}
	}
	settings, err := rt.SetEnabled(ctx, enabled)
	if err != nil {
		return err
	}
	out.AppendLines(schema.StatusMarker + "expansion " + onOff(settings.Enabled))
	return nil
}

func (h *Handler) handleMode(ctx context.Context, rt Runtime, out Output, cmd Command) error {
	if len(cmd.Args) == 0 {
		out.AppendLines(schema.StatusMarker + "mode " + string(rt.Settings().Mode))
		return nil
	}
	mode := schema.Mode(strings.ToLower(cmd.Args[0]))
	if mode != schema.ModeExplicit && mode != schema.ModeAuto {
		return errors.New("usage: /mode [explicit|auto]")
	}
	settings, err := rt.SetMode(ctx, mode)
	if err != nil {
		return err
	}
	out.AppendLines(schema.StatusMarker + "mode " + string(settings.Mode))
	return nil
}

func (h *Handler) handleStatus(rt Runtime, out Output) {
	settings := rt.Settings()
	client := rt.Client()
	channelState := "ok"
	if client.Invalidated() {
		channelState = "invalidated"
	}
	generation := client.Generation()
	if generation == "" {
		generation = "unknown"
	}
	labels := []string{"User", "Expansion", "Mode", "Shortcuts", "Channel", "Generation"}
	width := maxLabelWidth(labels)
	out.AppendLines(
		schema.HeaderMarker+"Status",
		formatStatusLine("User", displayName(rt.User()), width),
		formatStatusLine("Expansion", onOff(settings.Enabled), width),
		formatStatusLine("Mode", string(settings.Mode), width),
		formatStatusLine("Shortcuts", fmt.Sprintf("%d", len(rt.Picker(""))), width),
		formatStatusLine("Channel", channelState, width),
		formatStatusLine("Generation", generation, width),
	)
}

func helpLines() []string {
	return []string{
		schema.HeaderMarker + "Commands",
		schema.HelpMarker + "/login <username> - sign in to the shortcut service",
		schema.HelpMarker + "/logout - sign out and clear cached shortcuts",
		schema.HelpMarker + "/sync - refresh shortcuts from the service",
		schema.HelpMarker + "/list [query] - list cached shortcuts",
		schema.HelpMarker + "/find <trigger> - look up one trigger",
		schema.HelpMarker + "/search <query> - search the service",
		schema.HelpMarker + "/toggle [on|off] - switch expansion on or off",
		schema.HelpMarker + "/mode [explicit|auto] - choose how triggers complete",
		schema.HelpMarker + "/status - show session status",
		schema.HelpMarker + "/version - show version information",
		schema.HelpMarker + "/quit - exit the session",
		schema.HelpMarker + "Ctrl+Space - open the shortcut picker",
	}
}

func formatShortcuts(list []schema.Shortcut) []string {
	if len(list) > listLimit {
		list = list[:listLimit]
	}
	width := 0
	for _, sc := range list {
		if n := len([]rune(sc.Trigger)); n > width {
			width = n
		}
	}
	lines := make([]string, 0, len(list))
	for _, sc := range list {
		title := sc.Title
		if strings.TrimSpace(title) == "" {
			title = firstLine(sc.Content)
		}
		lines = append(lines, fmt.Sprintf("%-*s  %s  [%s, used %d]", width, sc.Trigger, title, sc.ExpansionType, sc.UseCount))
	}
	return lines
}

func firstLine(value string) string {
	if i := strings.IndexByte(value, '\n'); i >= 0 {
		return value[:i] + "..."
	}
	return value
}

func displayName(user *schema.User) string {
	if user == nil {
		return "not signed in"
	}
	if user.DisplayName != "" {
		return user.DisplayName + " (" + user.Username + ")"
	}
	return user.Username
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func maxLabelWidth(labels []string) int {
	max := 0
	for _, label := range labels {
		if label == "" {
			continue
		}
		width := len(label) + 1
		if width > max {
			max = width
		}
	}
	return max
}

func formatStatusLine(label, value string, labelWidth int) string {
	if labelWidth <= 0 {
		labelWidth = len(label) + 1
	}
	if strings.TrimSpace(value) == "" {
		value = "unknown"
	}
	return fmt.Sprintf("%-*s %s", labelWidth, label+":", value)
}
