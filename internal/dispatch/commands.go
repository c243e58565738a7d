package dispatch

import (
	"strings"
	"unicode"
)

// Class is how a command executes.
type Class int

const (
	// ClassNav commands move the host to another screen and append nothing.
	ClassNav Class = iota
	// ClassLocal commands resolve on this machine and reply with a system message.
	ClassLocal
	// ClassAgent commands are forwarded to the agent.
	ClassAgent
)

// Slash commands.
const (
	CmdExit         = "/exit"
	CmdQuit         = "/quit"
	CmdNew          = "/new"
	CmdResume       = "/resume"
	CmdFork         = "/fork"
	CmdPlan         = "/plan"
	CmdPermissions  = "/permissions"
	CmdPersonality  = "/personality"
	CmdModel        = "/model"
	CmdExperimental = "/experimental"
	CmdStatus       = "/status"
	CmdDiff         = "/diff"
	CmdDebugConfig  = "/debug-config"
	CmdMCP          = "/mcp"
	CmdApps         = "/apps"
	CmdPs           = "/ps"
	CmdAgent        = "/agent"
	CmdCompact      = "/compact"
	CmdReview       = "/review"
	CmdMention      = "/mention"
	CmdLogout       = "/logout"
	CmdInit         = "/init"
	CmdStatusline   = "/statusline"
	CmdSandboxRead  = "/sandbox-add-read-dir"
	CmdFeedback     = "/feedback"
	CmdHelp         = "/help"
)

// Command describes one slash command. Class is the usual path; a few
// commands switch path on their argument (/plan, /model, /apps, /resume).
type Command struct {
	Name    string
	Args    string
	Summary string
	Class   Class
}

// Usage renders the command with its argument synopsis.
func (c Command) Usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// Commands is the command table in help order.
var Commands = []Command{
	{CmdNew, "", "start a new session in this workspace", ClassNav},
	{CmdResume, "<id|title>", "switch to another session", ClassNav},
	{CmdFork, "", "fork this conversation into a new session", ClassAgent},
	{CmdExit, "", "leave the chat", ClassNav},
	{CmdQuit, "", "leave the chat", ClassNav},
	{CmdPlan, "[on|off|<request>]", "toggle plan mode, or plan one request", ClassLocal},
	{CmdReview, "[instructions]", "review uncommitted changes", ClassAgent},
	{CmdCompact, "", "summarize earlier turns to free context", ClassAgent},
	{CmdModel, "[id]", "list models, or set the default model", ClassLocal},
	{CmdPermissions, "<policy>", "set the approval policy", ClassLocal},
	{CmdPersonality, "<style>", "set the response personality", ClassLocal},
	{CmdExperimental, "<feature> <on|off>", "toggle an experimental feature", ClassLocal},
	{CmdStatus, "", "show session and workspace status", ClassLocal},
	{CmdDiff, "", "show the workspace git diff", ClassLocal},
	{CmdMention, "<path>|clear", "attach a file path to the next message", ClassLocal},
	{CmdMCP, "", "list MCP servers", ClassAgent},
	{CmdApps, "[slug]", "list apps, or insert an app mention", ClassAgent},
	{CmdPs, "", "list threads loaded by the agent", ClassAgent},
	{CmdAgent, "", "list collaboration modes", ClassAgent},
	{CmdDebugConfig, "", "show the agent's effective config", ClassAgent},
	{CmdInit, "", "create an AGENTS.md in the workspace", ClassLocal},
	{CmdLogout, "", "remove stored agent credentials", ClassLocal},
	{CmdStatusline, "", "not supported", ClassLocal},
	{CmdSandboxRead, "", "not supported", ClassLocal},
	{CmdFeedback, "", "not supported", ClassLocal},
	{CmdHelp, "", "show this list", ClassLocal},
}

var commandIndex = func() map[string]Command {
	m := make(map[string]Command, len(Commands))
	for _, c := range Commands {
		m[c.Name] = c
	}
	return m
}()

// Lookup finds a command by its exact name.
func Lookup(name string) (Command, bool) {
	c, ok := commandIndex[name]
	return c, ok
}

// Parse splits input into a command and its trimmed argument. The first
// whitespace-delimited token must exactly match a known command; anything
// else, including unknown /tokens, is plain text and ok is false.
func Parse(input string) (cmd Command, arg string, ok bool) {
	s := strings.TrimLeftFunc(input, unicode.IsSpace)
	token, rest := s, ""
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		token, rest = s[:i], s[i:]
	}
	cmd, ok = Lookup(token)
	if !ok {
		return Command{}, "", false
	}
	return cmd, strings.TrimSpace(rest), true
}
