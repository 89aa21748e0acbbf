package connection

import (
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Query parameter names understood by the host.
const (
	paramConnectionID          = "id"
	paramAgentID               = "agentId"
	paramParentID              = "parentId"
	paramParentAgentInstanceID = "parentAgentInstanceId"
	paramAgentTask             = "agentTask"
	paramThreadToken           = "threadToken"
	paramDev                   = "dev"
)

// BuildURL assembles the host WebSocket URL.
//
// Identification parameters come first in a fixed order, then Extra in
// sorted key order, then dev=true when dev is set. Extra keys that collide
// with identification parameters are ignored. Every value is query-escaped.
func BuildURL(host string, port int, path string, p Params, dev bool) string {
	scheme := "ws"
	if i := strings.Index(host, "://"); i >= 0 {
		scheme = host[:i]
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strings.TrimPrefix(path, "/"),
	}

	var q []string
	add := func(key, value string) {
		if value != "" {
			q = append(q, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	add(paramConnectionID, p.ConnectionID)
	add(paramAgentID, p.AgentID)
	add(paramParentID, p.ParentID)
	add(paramParentAgentInstanceID, p.ParentAgentInstanceID)
	add(paramAgentTask, p.AgentTask)
	add(paramThreadToken, p.ThreadToken)

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		if !reservedParam(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, p.Extra[k])
	}

	if dev {
		add(paramDev, "true")
	}

	u.RawQuery = strings.Join(q, "&")
	return u.String()
}

// RedactURL hides the thread token so URLs are safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get(paramThreadToken) == "" {
		return raw
	}
	q.Set(paramThreadToken, "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}

func reservedParam(key string) bool {
	switch key {
	case paramConnectionID, paramAgentID, paramParentID, paramParentAgentInstanceID,
		paramAgentTask, paramThreadToken, paramDev:
		return true
	}
	return false
}
