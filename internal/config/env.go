package config

import (
	"os"
	"strings"

	"github.com/hostbridge/agentsdk/internal/connection"
	"github.com/hostbridge/agentsdk/internal/frame"
)

// Environment variables that identify this agent to the host.
const (
	EnvConnectionID          = "connectionId"
	EnvAgentID               = "agentId"
	EnvParentID              = "parentId"
	EnvParentAgentInstanceID = "parentAgentInstanceId"
	EnvAgentTask             = "agentTask"
	EnvThreadToken           = "threadToken"
)

// excludedEnv is never passed through as an extra query parameter.
var excludedEnv = map[string]bool{
	EnvSocketPort: true,
	EnvServerURL:  true,
	EnvAgentDev:   true,

	EnvConnectionID:          true,
	EnvAgentID:               true,
	EnvParentID:              true,
	EnvParentAgentInstanceID: true,
	EnvAgentTask:             true,
	EnvThreadToken:           true,

	"PATH": true, "HOME": true, "USER": true, "LOGNAME": true, "SHELL": true,
	"PWD": true, "OLDPWD": true, "SHLVL": true, "_": true, "TERM": true,
	"TERM_PROGRAM": true, "COLORTERM": true, "LANG": true, "LANGUAGE": true,
	"TMPDIR": true, "TMP": true, "TEMP": true, "HOSTNAME": true, "TZ": true,
	"EDITOR": true, "PAGER": true, "MAIL": true, "DISPLAY": true,
	"SSH_AUTH_SOCK": true, "SSH_CLIENT": true, "SSH_CONNECTION": true, "SSH_TTY": true,
	"GOPATH": true, "GOROOT": true, "GOCACHE": true, "GOMODCACHE": true,
	"GOFLAGS": true, "GOPROXY": true, "GOTOOLCHAIN": true, "GODEBUG": true,
	"GOMAXPROCS": true, "GOGC": true, "GOMEMLIMIT": true,
	"HTTP_PROXY": true, "HTTPS_PROXY": true, "NO_PROXY": true,
	"http_proxy": true, "https_proxy": true, "no_proxy": true,
}

// excludedPrefixes covers families of runtime variables.
var excludedPrefixes = []string{"LC_", "XDG_", "DBUS_"}

// FromEnvironment builds connection parameters from environ, which has the
// form returned by os.Environ. A missing connection id is generated.
func FromEnvironment(environ []string) connection.Params {
	var p connection.Params
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		switch key {
		case EnvConnectionID:
			p.ConnectionID = value
		case EnvAgentID:
			p.AgentID = value
		case EnvParentID:
			p.ParentID = value
		case EnvParentAgentInstanceID:
			p.ParentAgentInstanceID = value
		case EnvAgentTask:
			p.AgentTask = value
		case EnvThreadToken:
			p.ThreadToken = value
		default:
			if excluded(key) || value == "" {
				continue
			}
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[key] = value
		}
	}
	if p.ConnectionID == "" {
		p.ConnectionID = frame.NewRequestID()
	}
	return p
}

// ProcessParams is FromEnvironment over the process environment.
func ProcessParams() connection.Params {
	return FromEnvironment(os.Environ())
}

func excluded(key string) bool {
	if excludedEnv[key] {
		return true
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// ManagerConfig maps the loaded config onto the Connection Manager.
func (c *Config) ManagerConfig(params connection.Params) connection.ManagerConfig {
	return connection.ManagerConfig{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		Path:           c.Server.Path,
		Dev:            c.Server.Dev,
		Params:         params,
		ConnectTimeout: c.Timeouts.Connect,
		AwaitTimeout:   c.Timeouts.Await,
		WriteTimeout:   c.Timeouts.Write,
		PingInterval:   c.Timeouts.Ping,
		PongTimeout:    c.Timeouts.Pong,
		ReadLimit:      c.Connection.ReadLimit,
		SendRate:       c.Connection.SendRate,
		SendBurst:      c.Connection.SendBurst,
	}
}
