package configs

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/DistCompiler/pgo/authdh/session"
)

type Root struct {
	Test string
	Runs []Run

	Mode        string
	MaxDepth    int
	MaxStates   int
	Walks       int
	Workers     int
	Seed        int64
	Chooser     string
	LeakNonces  bool
	StopOnFirst bool
	Properties  []string

	TraceFile string
	Store     Store
	Log       Log
}

// Run describes one protocol run. Peer names the honest run it expects to
// talk to; without one, it expects the attacker's exponential built from
// AttackerExponent.
type Run struct {
	ID               string
	Role             string
	Owner            string
	Partner          string
	Peer             string
	AttackerExponent int32
}

type Store struct {
	Type string
	Path string
}

type Log struct {
	Level  string
	Format string
}

func ReadConfig(path string) (Root, error) {
	v := viper.New()
	v.SetDefault("mode", "exhaustive")
	v.SetDefault("walks", 100)
	v.SetDefault("workers", 1)
	v.SetDefault("chooser", "random")
	v.SetDefault("store.type", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Root{}, err
	}
	var c Root
	if err := v.Unmarshal(&c); err != nil {
		return Root{}, err
	}
	return c, c.Validate()
}

func (c Root) Validate() error {
	switch c.Mode {
	case "exhaustive", "simulate":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Chooser {
	case "random", "roundrobin":
	default:
		return fmt.Errorf("unknown chooser %q", c.Chooser)
	}
	switch c.Store.Type {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Test == "" {
		return fmt.Errorf("no test run configured")
	}
	if len(c.Runs) == 0 {
		return fmt.Errorf("no runs configured")
	}
	return nil
}

func (r Run) Spec() (session.RunSpec, error) {
	var role session.Role
	switch strings.ToLower(r.Role) {
	case "init", "initiator":
		role = session.Init
	case "resp", "responder":
		role = session.Resp
	default:
		return session.RunSpec{}, fmt.Errorf("run %s: unknown role %q", r.ID, r.Role)
	}
	peer := session.PeerAttacker(r.AttackerExponent)
	if r.Peer != "" {
		peer = session.PeerRun(session.RunID(r.Peer))
	}
	return session.RunSpec{
		Run: session.Run{
			ID:      session.RunID(r.ID),
			Role:    role,
			Owner:   r.Owner,
			Partner: r.Partner,
		},
		Peer: peer,
	}, nil
}

// Environment builds the session oracle the configuration describes.
func (c Root) Environment() (*session.Environment, error) {
	specs := make([]session.RunSpec, 0, len(c.Runs))
	for _, r := range c.Runs {
		spec, err := r.Spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return session.NewEnvironment(session.RunID(c.Test), specs...)
}
