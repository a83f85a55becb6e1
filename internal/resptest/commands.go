package resptest

import (
	"path"
	"strconv"
	"strings"

	"github.com/eternalApril/moonwire/internal/resp"
)

func wrongArgs(cmd string) resp.Value {
	return resp.MakeError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

// registerBasicCommands fills the registry with standard commands
func (s *Server) registerBasicCommands() {
	s.Handle("PING", s.ping)
	s.Handle("ECHO", echo)
	s.Handle("QUIT", quit)
	s.Handle("AUTH", s.auth)
	s.Handle("SELECT", selectDB)
	s.Handle("SET", s.set)
	s.Handle("GET", s.get)
	s.Handle("DEL", s.del)
	s.Handle("PUBLISH", s.publish)
	s.Handle("SUBSCRIBE", s.subscribe(false))
	s.Handle("PSUBSCRIBE", s.subscribe(true))
	s.Handle("UNSUBSCRIBE", s.unsubscribe(false))
	s.Handle("PUNSUBSCRIBE", s.unsubscribe(true))
}

func (s *Server) ping(c *Conn, args [][]byte) {
	if len(args) > 2 {
		c.Send(wrongArgs("PING")) //nolint:errcheck
		return
	}

	if c.subscribed() {
		payload := resp.MakeBulkString("")
		if len(args) == 2 {
			payload = resp.MakeBulkBytes(args[1])
		}
		c.Send(resp.MakeArray([]resp.Value{resp.MakeBulkString("pong"), payload})) //nolint:errcheck
		return
	}

	if len(args) == 2 {
		c.Send(resp.MakeBulkBytes(args[1])) //nolint:errcheck
		return
	}
	c.Send(resp.MakeSimpleString("PONG")) //nolint:errcheck
}

func echo(c *Conn, args [][]byte) {
	if len(args) != 2 {
		c.Send(wrongArgs("ECHO")) //nolint:errcheck
		return
	}
	c.Send(resp.MakeBulkBytes(args[1])) //nolint:errcheck
}

func quit(c *Conn, _ [][]byte) {
	c.Send(resp.MakeSimpleString("OK")) //nolint:errcheck
}

func (s *Server) auth(c *Conn, args [][]byte) {
	if len(args) < 2 || len(args) > 3 {
		c.Send(wrongArgs("AUTH")) //nolint:errcheck
		return
	}
	if s.password == "" {
		c.Send(resp.MakeError("ERR AUTH <password> called without any password configured for the default user.")) //nolint:errcheck
		return
	}
	if string(args[len(args)-1]) != s.password {
		c.Send(resp.MakeError("WRONGPASS invalid username-password pair or user is disabled.")) //nolint:errcheck
		return
	}
	c.authenticated = true
	c.Send(resp.MakeSimpleString("OK")) //nolint:errcheck
}

func selectDB(c *Conn, args [][]byte) {
	if len(args) != 2 {
		c.Send(wrongArgs("SELECT")) //nolint:errcheck
		return
	}
	n, err := strconv.Atoi(string(args[1]))
	if err != nil || n < 0 || n > 15 {
		c.Send(resp.MakeError("ERR DB index is out of range")) //nolint:errcheck
		return
	}
	c.Send(resp.MakeSimpleString("OK")) //nolint:errcheck
}

func (s *Server) set(c *Conn, args [][]byte) {
	if len(args) != 3 {
		c.Send(wrongArgs("SET")) //nolint:errcheck
		return
	}
	s.mu.Lock()
	s.data[string(args[1])] = args[2]
	s.mu.Unlock()
	c.Send(resp.MakeSimpleString("OK")) //nolint:errcheck
}

func (s *Server) get(c *Conn, args [][]byte) {
	if len(args) != 2 {
		c.Send(wrongArgs("GET")) //nolint:errcheck
		return
	}
	val, ok := s.Get(string(args[1]))
	if !ok {
		c.Send(resp.MakeNilBulkString()) //nolint:errcheck
		return
	}
	c.Send(resp.MakeBulkBytes(val)) //nolint:errcheck
}

func (s *Server) del(c *Conn, args [][]byte) {
	if len(args) < 2 {
		c.Send(wrongArgs("DEL")) //nolint:errcheck
		return
	}
	var deleted int64
	s.mu.Lock()
	for _, key := range args[1:] {
		if _, ok := s.data[string(key)]; ok {
			delete(s.data, string(key))
			deleted++
		}
	}
	s.mu.Unlock()
	c.Send(resp.MakeInteger(deleted)) //nolint:errcheck
}

// publish fans a message out to channel and pattern subscribers and replies with the receiver count
func (s *Server) publish(c *Conn, args [][]byte) {
	if len(args) != 3 {
		c.Send(wrongArgs("PUBLISH")) //nolint:errcheck
		return
	}
	channel := string(args[1])
	payload := args[2]

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for sub := range s.conns {
		conns = append(conns, sub)
	}
	s.mu.Unlock()

	var receivers int64
	for _, sub := range conns {
		sub.subMu.Lock()
		_, direct := sub.channels[channel]
		var matched []string
		for pat := range sub.patterns {
			if ok, _ := path.Match(pat, channel); ok {
				matched = append(matched, pat)
			}
		}
		sub.subMu.Unlock()

		if direct {
			receivers++
			sub.Send(resp.MakeBulkArray("message", channel, string(payload))) //nolint:errcheck
		}
		for _, pat := range matched {
			receivers++
			sub.Send(resp.MakeBulkArray("pmessage", pat, channel, string(payload))) //nolint:errcheck
		}
	}

	c.Send(resp.MakeInteger(receivers)) //nolint:errcheck
}

func (s *Server) subscribe(pattern bool) HandlerFunc {
	kind := "subscribe"
	if pattern {
		kind = "psubscribe"
	}

	return func(c *Conn, args [][]byte) {
		if len(args) < 2 {
			c.Send(wrongArgs(kind)) //nolint:errcheck
			return
		}
		for _, name := range args[1:] {
			c.subMu.Lock()
			if pattern {
				c.patterns[string(name)] = struct{}{}
			} else {
				c.channels[string(name)] = struct{}{}
			}
			c.subMu.Unlock()

			c.Send(confirmation(kind, resp.MakeBulkBytes(name), c.subscriptions())) //nolint:errcheck
		}
	}
}

func (s *Server) unsubscribe(pattern bool) HandlerFunc {
	kind := "unsubscribe"
	if pattern {
		kind = "punsubscribe"
	}

	return func(c *Conn, args [][]byte) {
		c.subMu.Lock()
		set := c.channels
		if pattern {
			set = c.patterns
		}
		names := args[1:]
		if len(names) == 0 {
			for name := range set {
				names = append(names, []byte(name))
			}
		}
		c.subMu.Unlock()

		if len(names) == 0 {
			c.Send(confirmation(kind, resp.MakeNilBulkString(), c.subscriptions())) //nolint:errcheck
			return
		}

		for _, name := range names {
			c.subMu.Lock()
			delete(set, string(name))
			c.subMu.Unlock()

			c.Send(confirmation(kind, resp.MakeBulkBytes(name), c.subscriptions())) //nolint:errcheck
		}
	}
}

func confirmation(kind string, name resp.Value, count int64) resp.Value {
	return resp.MakeArray([]resp.Value{
		resp.MakeBulkString(kind),
		name,
		resp.MakeInteger(count),
	})
}
