package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/steamfleet/farmhand/internal/mobileauth"
	"github.com/steamfleet/farmhand/internal/platform"
)

// maxChatMessageLength bounds a single outgoing chat message; replies
// longer than this are split into chunks of at most maxChatMessageLength-6
// characters with an ellipsis prefix/suffix between parts.
const maxChatMessageLength = 2000

// commandFunc is one verb's handler. args is whatever followed the verb,
// already whitespace-split.
type commandFunc func(b *Bot, ctx context.Context, senderID uint64, args []string) string

// ownerOnly names the verbs that require the fleet owner rather than
// just this bot's configured master: the owner for fleet-wide and
// mutation commands, the master for bot-scoped commands.
var ownerOnly = map[string]bool{
	"exit":      true,
	"lootall":   true,
	"restart":   true,
	"statusall": true,
	"update":    true,
	"api":       true,
}

var commandTable map[string]commandFunc

func init() {
	commandTable = map[string]commandFunc{
		"2fa":        cmdTwoFactor,
		"2faok":      cmdTwoFactorOK,
		"2fano":      cmdTwoFactorNo,
		"api":        cmdAPI,
		"exit":       cmdExit,
		"farm":       cmdFarm,
		"help":       cmdHelp,
		"loot":       cmdLoot,
		"lootall":    cmdLootAll,
		"password":   cmdPassword,
		"pause":      cmdPause,
		"rejoinchat": cmdRejoinChat,
		"resume":     cmdResume,
		"restart":    cmdRestart,
		"status":     cmdStatus,
		"statusall":  cmdStatusAll,
		"stop":       cmdStop,
		"update":     cmdUpdate,
		"version":    cmdVersion,
		"addlicense": cmdAddLicense,
		"owns":       cmdOwns,
		"play":       cmdPlay,
		"redeem":     cmdRedeem,
		"start":      cmdStart,
	}
}

// version is the daemon's self-reported build identity; a real build
// would stamp this via -ldflags, left as a plain constant here.
const version = "farmhand-dev"

// onChatMessage is the event-loop entry point for an incoming chat
// message: parse, dispatch, and send whatever Response returns (nothing,
// if the sender gets no reply).
func (b *Bot) onChatMessage(ctx context.Context, e platform.ChatMessageEvent) {
	reply := b.Response(ctx, e.SenderID, e.ChatID, e.Message)
	if reply == "" {
		return
	}
	for _, chunk := range chunkMessage(reply, maxChatMessageLength) {
		b.client.SendChatMessage(ctx, e.SenderID, e.ChatID, chunk)
	}
}

// Response implements command parsing: a bare,
// non-"!"-prefixed message from the master is a redeem-key list; a
// "!"-prefixed message is parsed as a verb and dispatched through
// commandTable. Senders who are neither the configured master nor the
// fleet owner receive no reply at all.
func (b *Bot) Response(ctx context.Context, senderID, chatID uint64, message string) string {
	isMaster := b.cfg.MasterID != 0 && senderID == b.cfg.MasterID
	isOwner := b.owner != 0 && senderID == b.owner
	if !isMaster && !isOwner {
		return ""
	}

	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "!") {
		if !isMaster {
			return ""
		}
		return b.runRedeemPipeline(ctx, trimmed)
	}

	verb, args, ok := splitCommand(trimmed)
	if !ok {
		return ""
	}

	if ownerOnly[verb] && !isOwner {
		return ""
	}

	handler, ok := commandTable[verb]
	if !ok {
		return "ERROR: Unknown command!"
	}
	return handler(b, ctx, senderID, args)
}

// splitCommand parses "!verb [arg1 [arg2]]" into its verb and arguments.
func splitCommand(message string) (verb string, args []string, ok bool) {
	text := strings.TrimSpace(strings.TrimPrefix(message, "!"))
	if text == "" {
		return "", nil, false
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	return strings.ToLower(parts[0]), parts[1:], true
}

// chunkMessage splits msg into pieces of at most max characters, each
// continuation piece (after the first, before the last) framed with an
// ellipsis to signal truncation.
func chunkMessage(msg string, max int) []string {
	budget := max - 6
	if budget < 1 || len(msg) <= max {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		n := budget
		if n > len(msg) {
			n = len(msg)
		}
		chunks = append(chunks, msg[:n])
		msg = msg[n:]
	}
	for i := range chunks {
		switch {
		case len(chunks) == 1:
		case i == 0:
			chunks[i] = chunks[i] + "..."
		case i == len(chunks)-1:
			chunks[i] = "..." + chunks[i]
		default:
			chunks[i] = "..." + chunks[i] + "..."
		}
	}
	return chunks
}

func cmdHelp(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	verbs := make([]string, 0, len(commandTable))
	for v := range commandTable {
		verbs = append(verbs, v)
	}
	return "commands: " + strings.Join(verbs, ", ")
}

func cmdVersion(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	return version
}

func cmdStatus(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	farming := b.farmer.CurrentlyFarming()
	return fmt.Sprintf("%s: state=%s farming=%v playingBlocked=%v", b.Name, b.State(), farming, b.playingBlockedState())
}

func cmdStatusAll(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.fleet == nil {
		return cmdStatus(b, ctx, senderID, args)
	}
	var lines []string
	for _, other := range b.fleet.All() {
		lines = append(lines, cmdStatus(other, ctx, senderID, args))
	}
	return strings.Join(lines, "\n")
}

func cmdStart(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	b.Start(ctx)
	return b.Name + ": starting"
}

func cmdStop(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	go b.Stop()
	return b.Name + ": stopping"
}

func cmdRestart(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.fleet == nil {
		return b.Name + ": no fleet to restart"
	}
	for _, other := range b.fleet.All() {
		go func(ob *Bot) {
			ob.Stop()
			ob.Start(ctx)
		}(other)
	}
	return "restarting fleet"
}

func cmdExit(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.fleet != nil {
		b.fleet.RequestExit()
	}
	return "exiting"
}

func cmdFarm(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	b.farmer.Start(ctx)
	return b.Name + ": farming"
}

func cmdPause(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	b.farmer.SwitchToManualMode(ctx, true)
	return b.Name + ": farming paused"
}

func cmdResume(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	b.farmer.SwitchToManualMode(ctx, false)
	return b.Name + ": farming resumed"
}

func cmdLoot(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.trading == nil {
		return b.Name + ": no mobile authenticator enrolled, cannot send loot"
	}
	if err := b.trading.SendLoot(ctx); err != nil {
		return fmt.Sprintf("%s: sendLoot failed: %v", b.Name, err)
	}
	return b.Name + ": loot sent"
}

func cmdLootAll(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.fleet == nil {
		return cmdLoot(b, ctx, senderID, args)
	}
	var lines []string
	for _, other := range b.fleet.All() {
		lines = append(lines, cmdLoot(other, ctx, senderID, args))
	}
	return strings.Join(lines, "\n")
}

func cmdRejoinChat(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.cfg.MasterClanID == 0 {
		return b.Name + ": no master clan configured"
	}
	ok, err := b.client.Web().JoinGroup(ctx, b.cfg.MasterClanID)
	if err != nil {
		return fmt.Sprintf("%s: rejoin failed: %v", b.Name, err)
	}
	if !ok {
		return b.Name + ": rejoin did not succeed"
	}
	return b.Name + ": rejoined master chat"
}

func cmdPassword(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if len(args) == 0 {
		return b.Name + ": usage: !password <new password>"
	}
	b.mu.Lock()
	b.cfg.Password = args[0]
	b.mu.Unlock()
	return b.Name + ": password updated, will take effect on next reconnect"
}

func cmdTwoFactor(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if len(args) == 0 {
		return b.Name + ": usage: !2fa <code>"
	}
	if !b.submitTwoFactor(args[0]) {
		return b.Name + ": a code is already queued"
	}
	return b.Name + ": code queued for next login attempt"
}

func cmdTwoFactorOK(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.confirms == nil {
		return b.Name + ": no mobile authenticator enrolled"
	}
	n, err := b.confirms.AcceptMatching(ctx, mobileauth.ByType(platform.ConfirmationTrade))
	if err != nil {
		return fmt.Sprintf("%s: accept failed: %v", b.Name, err)
	}
	return fmt.Sprintf("%s: accepted %d confirmation(s)", b.Name, n)
}

func cmdTwoFactorNo(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if b.confirms == nil {
		return b.Name + ": no mobile authenticator enrolled"
	}
	list, err := b.confirms.Fetch(ctx)
	if err != nil {
		return fmt.Sprintf("%s: fetch failed: %v", b.Name, err)
	}
	denied := 0
	for _, conf := range list {
		if err := b.confirms.Deny(ctx, conf); err == nil {
			denied++
		}
	}
	return fmt.Sprintf("%s: denied %d confirmation(s)", b.Name, denied)
}

func cmdAddLicense(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if len(args) == 0 {
		return b.Name + ": usage: !addlicense <appid>"
	}
	appID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return b.Name + ": invalid app id"
	}
	result, err := b.client.RequestFreeLicense(ctx, uint32(appID))
	if err != nil {
		return fmt.Sprintf("%s: addlicense failed: %v", b.Name, err)
	}
	return fmt.Sprintf("%s: addlicense granted=%v apps=%v", b.Name, result.Granted, result.AppIDs)
}

func cmdOwns(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	if len(args) == 0 {
		return b.Name + ": usage: !owns <appid>"
	}
	appID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return b.Name + ": invalid app id"
	}
	owned, err := b.client.Web().GetOwnedGames(ctx)
	if err != nil {
		return fmt.Sprintf("%s: owns lookup failed: %v", b.Name, err)
	}
	name, ok := owned[uint32(appID)]
	if !ok {
		return fmt.Sprintf("%s: does not own %d", b.Name, appID)
	}
	return fmt.Sprintf("%s: owns %d (%s)", b.Name, appID, name)
}

func cmdPlay(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	appIDs := make([]uint32, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return b.Name + ": invalid app id " + a
		}
		appIDs = append(appIDs, uint32(id))
	}
	b.client.PlayGames(ctx, appIDs, b.cfg.IdleGameName)
	return fmt.Sprintf("%s: now playing %v", b.Name, appIDs)
}

func cmdRedeem(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	return b.runRedeemPipeline(ctx, strings.Join(args, "\n"))
}

func cmdAPI(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	return b.Name + ": the HTTP API surface is always on; there is no separate api-only mode to toggle"
}

func cmdUpdate(b *Bot, ctx context.Context, senderID uint64, args []string) string {
	return "update: not implemented, this daemon has no self-update mechanism"
}

func (b *Bot) playingBlockedState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playingBlocked
}
