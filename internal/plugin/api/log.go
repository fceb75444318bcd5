package api

import (
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// LogModule implements the host.log API module.
// Logging requires no capability; output is tagged with the plugin slug.
type LogModule struct {
	logger *logrus.Entry
}

// NewLogModule creates a new log module writing through the given entry.
func NewLogModule(logger *logrus.Entry) *LogModule {
	return &LogModule{logger: logger}
}

// Name returns the module name.
func (m *LogModule) Name() string {
	return "log"
}

// RequiredCapability returns the capability required for this module.
func (m *LogModule) RequiredCapability() security.Capability {
	return ""
}

// Register registers the module into the Lua state.
func (m *LogModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(m.level(logrus.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.level(logrus.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.level(logrus.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.level(logrus.ErrorLevel)))
	setHostField(L, m.Name(), mod)
	return nil
}

// level builds a Lua function logging at the given level:
// host.log.info(msg, fields?)
func (m *LogModule) level(lvl logrus.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		entry := m.logger
		if L.GetTop() >= 2 {
			if tbl := L.OptTable(2, nil); tbl != nil {
				entry = entry.WithFields(logrus.Fields(luaTableToDataMap(tbl)))
			}
		}
		entry.Log(lvl, msg)
		return 0
	}
}
