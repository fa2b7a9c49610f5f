package speedtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrEmptyServerList = errors.New("server list is empty")
	ErrNoServerFound   = errors.New("no reachable server found")
)

// Server is a candidate test server. Identity is Host.
type Server struct {
	Host    string `json:"host"`
	Country string `json:"country"`
	City    string `json:"city"`
}

// ServerList is a decoded server list file.
type ServerList struct {
	Servers Servers
	// Skipped counts entries dropped for being malformed.
	Skipped int
}

// Servers keeps the order of the source list.
type Servers []*Server

// Len finds length of servers.
func (servers Servers) Len() int {
	return len(servers)
}

// usable reports whether the server can be probed at all.
func (s *Server) usable() bool {
	return s != nil && s.Host != ""
}

// LoadServerList reads a JSON server list from path.
func LoadServerList(path string) (*ServerList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server list: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("read server list %s: %w", path, ErrEmptyServerList)
	}
	list, err := ParseServerList(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse server list %s: %w", path, err)
	}
	return list, nil
}

// ParseServerList decodes a JSON array of {host, country, city} objects.
// Entries that are not objects or lack one of the three string fields are
// skipped; extra fields are ignored.
func ParseServerList(r io.Reader) (*ServerList, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}

	list := &ServerList{Servers: make(Servers, 0, len(raw))}
	for i, entry := range raw {
		server, ok := decodeServer(entry)
		if !ok {
			dbg.Printf("server list: skip malformed entry %d\n", i)
			list.Skipped++
			continue
		}
		list.Servers = append(list.Servers, server)
	}
	return list, nil
}

func decodeServer(entry json.RawMessage) (*Server, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(entry, &obj); err != nil || obj == nil {
		return nil, false
	}
	host, ok := stringField(obj, "host")
	if !ok {
		return nil, false
	}
	country, ok := stringField(obj, "country")
	if !ok {
		return nil, false
	}
	city, ok := stringField(obj, "city")
	if !ok {
		return nil, false
	}
	return &Server{Host: host, Country: country, City: city}, true
}

// stringField returns obj[key] when it is present and a JSON string.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var v string
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return "", false
	}
	return v, true
}

// String representation of ServerList
func (list *ServerList) String() string {
	return list.Servers.String()
}

// String representation of Servers
func (servers Servers) String() string {
	var b strings.Builder
	for _, server := range servers {
		b.WriteString(server.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// String representation of Server
func (s *Server) String() string {
	if s.Country == "" && s.City == "" {
		return s.Host
	}
	return fmt.Sprintf("%s (%s, %s)", s.Host, s.Country, s.City)
}
