package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseYAML parses the specific two-level mapping used by config.yaml
func parseYAML(r io.Reader, cfg *Config) error {
	type section int
	const (
		none section = iota
		db
		rm
		ws
		sv
		jw
		mp
		gc
		fd
	)

	scanner := bufio.NewScanner(r)
	var cur section

	lineNo := 0
	seenTop := map[section]bool{}

	enter := func(s section, name string) error {
		if seenTop[s] {
			return fmt.Errorf("line %d: duplicate %q section", lineNo, name)
		}
		seenTop[s] = true
		cur = s
		return nil
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		// strip comments
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}

		line := strings.TrimRight(raw, " \t\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// top-level section? (no leading spaces)
		if len(line) > 0 && (line[0] != ' ' && line[0] != '\t') {
			name := strings.TrimSuffix(strings.TrimSpace(line), ":")
			var err error
			switch name {
			case "database":
				err = enter(db, name)
			case "rabbitmq":
				err = enter(rm, name)
			case "websocket":
				err = enter(ws, name)
			case "services":
				err = enter(sv, name)
			case "jwt":
				err = enter(jw, name)
			case "map":
				err = enter(mp, name)
			case "geocoder":
				err = enter(gc, name)
			case "feed":
				err = enter(fd, name)
			default:
				return fmt.Errorf("line %d: unknown top-level key %q", lineNo, name)
			}
			if err != nil {
				return err
			}
			continue
		}

		// expect indented "key: value"
		if cur == none {
			return fmt.Errorf("line %d: key without a section", lineNo)
		}
		trim := strings.TrimSpace(line)
		colon := strings.IndexByte(trim, ':')
		if colon <= 0 {
			return fmt.Errorf("line %d: expected 'key: value'", lineNo)
		}
		key := strings.TrimSpace(trim[:colon])
		val := strings.TrimLeft(strings.TrimSpace(trim[colon+1:]), " \t")

		asInt := func(section string) (int, error) {
			p, err := strconv.Atoi(resolveScalar(val))
			if err != nil {
				return 0, fmt.Errorf("line %d: %s.%s must be int: %v", lineNo, section, key, err)
			}
			return p, nil
		}
		asBool := func(section string) (bool, error) {
			b, err := strconv.ParseBool(resolveScalar(val))
			if err != nil {
				return false, fmt.Errorf("line %d: %s.%s must be bool: %v", lineNo, section, key, err)
			}
			return b, nil
		}

		switch cur {
		case db:
			switch key {
			case "host":
				cfg.Database.Host = resolveScalar(val)
			case "port":
				p, err := asInt("database")
				if err != nil {
					return err
				}
				cfg.Database.Port = p
			case "user":
				cfg.Database.User = resolveScalar(val)
			case "password":
				cfg.Database.Password = resolveScalar(val)
			case "database":
				cfg.Database.Name = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in database: %q", lineNo, key)
			}
		case rm:
			switch key {
			case "host":
				cfg.RabbitMQ.Host = resolveScalar(val)
			case "port":
				p, err := asInt("rabbitmq")
				if err != nil {
					return err
				}
				cfg.RabbitMQ.Port = p
			case "user":
				cfg.RabbitMQ.User = resolveScalar(val)
			case "password":
				cfg.RabbitMQ.Password = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in rabbitmq: %q", lineNo, key)
			}
		case ws:
			switch key {
			case "port":
				p, err := asInt("websocket")
				if err != nil {
					return err
				}
				cfg.WebSocket.Port = p
			default:
				return fmt.Errorf("line %d: unknown key in websocket: %q", lineNo, key)
			}
		case sv:
			switch key {
			case "tracking_service":
				p, err := asInt("services")
				if err != nil {
					return err
				}
				cfg.Services.TrackingServicePort = p
			default:
				return fmt.Errorf("line %d: unknown key in services: %q", lineNo, key)
			}
		case jw:
			switch key {
			case "secret_key":
				cfg.JWT.SecretKey = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in jwt: %q", lineNo, key)
			}
		case mp:
			switch key {
			case "provider":
				cfg.Map.Provider = resolveScalar(val)
			case "style":
				cfg.Map.Style = resolveScalar(val)
			case "mapbox_token":
				cfg.Map.MapboxToken = resolveScalar(val)
			case "cluster_radius_px":
				p, err := asInt("map")
				if err != nil {
					return err
				}
				cfg.Map.ClusterRadiusPx = p
			case "max_zoom":
				p, err := asInt("map")
				if err != nil {
					return err
				}
				cfg.Map.MaxZoom = p
			default:
				return fmt.Errorf("line %d: unknown key in map: %q", lineNo, key)
			}
		case gc:
			switch key {
			case "enabled":
				b, err := asBool("geocoder")
				if err != nil {
					return err
				}
				cfg.Geocoder.Enabled = b
			case "base_url":
				cfg.Geocoder.BaseURL = resolveScalar(val)
			case "debounce_ms":
				p, err := asInt("geocoder")
				if err != nil {
					return err
				}
				cfg.Geocoder.DebounceMs = p
			default:
				return fmt.Errorf("line %d: unknown key in geocoder: %q", lineNo, key)
			}
		case fd:
			switch key {
			case "source":
				cfg.Feed.Source = resolveScalar(val)
			case "channel":
				cfg.Feed.Channel = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in feed: %q", lineNo, key)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

// resolveScalar trims whitespace and removes surrounding quotes from YAML-like scalars.
// For example:
//
//	"localhost"  -> localhost
//	'password123' -> password123
//	localhost     -> localhost
//
// This ensures values like jwt.secret_key are not stored with extra quotes.
func resolveScalar(s string) string {
	s = strings.TrimSpace(s)

	// if value is quoted with "..." or '...', remove quotes safely
	n := len(s)
	if n >= 2 {
		if (s[0] == '"' && s[n-1] == '"') || (s[0] == '\'' && s[n-1] == '\'') {
			if unq, err := strconv.Unquote(s); err == nil {
				return unq
			}
			// fallback if strconv.Unquote fails (e.g., mismatched quotes)
			return s[1 : n-1]
		}
	}

	return s
}
