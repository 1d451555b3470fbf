package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/najoast/sage/codec"
	"github.com/najoast/sage/core"
)

// testDefs are the message types shared by the test binary and the process
// groups it starts.
type testDefs struct {
	reg        *core.Registry
	ping       *core.MessageDef
	pong       *core.MessageDef
	long       *core.MessageDef
	takeDamage *core.MessageDef
}

func newTestDefs() *testDefs {
	reg := core.NewRegistry()
	return &testDefs{
		reg: reg,
		ping: reg.MustDefine(&core.MessageDef{
			Type:       "PingMessage",
			Properties: []string{"secret"},
			PacketType: 101,
			Fields:     []codec.Field{{Type: codec.Int32}},
		}),
		pong: reg.MustDefine(&core.MessageDef{
			Type:       "PongMessage",
			Properties: []string{"secret"},
			PacketType: 102,
			Fields:     []codec.Field{{Type: codec.Int32}},
		}),
		long: reg.MustDefine(&core.MessageDef{
			Type:       "LongMessage",
			Properties: []string{"data"},
			PacketType: 109,
			Fields:     []codec.Field{{Type: codec.ArrayOf(codec.Int32)}},
		}),
		takeDamage: reg.MustDefine(&core.MessageDef{
			Type:       "TakeDamage",
			Properties: []string{"damageAmount"},
			PacketType: 104,
			Fields:     []codec.Field{{Type: codec.Int32}},
		}),
	}
}

// testFactories are the actors process groups can run.
func testFactories(d *testDefs) map[string]ActorFactory {
	return map[string]ActorFactory{
		// ping answers every PingMessage with a PongMessage to main
		"ping": func(s *System) (core.Receiver, error) {
			return core.NewActor().Handle("PingMessage", func(msg *core.Message) bool {
				pong := d.pong.New(map[string]any{"secret": msg.Int("secret")})
				if _, err := s.QueueMessageToGroup(core.MainGroup, pong); err != nil {
					s.Logger().Error("failed to answer ping", slog.Any("error", err))
				}
				return true
			}), nil
		},
		// long answers a LongMessage with the length of its data
		"long": func(s *System) (core.Receiver, error) {
			return core.NewActor().Handle("LongMessage", func(msg *core.Message) bool {
				data, _ := msg.Get("data").([]int32)
				pong := d.pong.New(map[string]any{"secret": len(data)})
				if _, err := s.QueueMessageToGroup(core.MainGroup, pong); err != nil {
					s.Logger().Error("failed to answer long message", slog.Any("error", err))
				}
				return true
			}), nil
		},
		// relay forwards every PingMessage to group b
		"relay": func(s *System) (core.Receiver, error) {
			return core.NewActor().Handle("PingMessage", func(msg *core.Message) bool {
				ping := d.ping.New(map[string]any{"secret": msg.Int("secret") + 1})
				if _, err := s.QueueMessageToGroup("b", ping); err != nil {
					s.Logger().Error("failed to relay ping", slog.Any("error", err))
				}
				return true
			}), nil
		},
		"bad": func(*System) (core.Receiver, error) {
			return nil, errors.New("I am supposed to fail")
		},
	}
}

func TestMain(m *testing.M) {
	if IsChild() {
		d := newTestDefs()
		if err := RunChild(context.Background(), d.reg, testFactories(d)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}
