package sandbox

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua representations for execution
// arguments and results. It is not safe for concurrent use; the owning
// Context serializes access along with the Lua state itself.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a bridge bound to a Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToLua converts a Go value into a Lua value. Unsupported types are
// rendered as strings rather than failing the call.
func (b *Bridge) ToLua(value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case []any:
		tbl := b.L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, b.ToLua(item))
		}
		return tbl
	case []string:
		tbl := b.L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := b.L.NewTable()
		for key, item := range v {
			tbl.RawSetString(key, b.ToLua(item))
		}
		return tbl
	case map[string]string:
		tbl := b.L.NewTable()
		for key, item := range v {
			tbl.RawSetString(key, lua.LString(item))
		}
		return tbl
	case lua.LValue:
		return v
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// ToGo converts a Lua value into a Go value. Tables with contiguous
// integer keys starting at 1 become slices, everything else becomes a
// map. Circular table references are broken with nil.
func (b *Bridge) ToGo(value lua.LValue) any {
	return b.toGo(value, map[*lua.LTable]bool{})
}

func (b *Bridge) toGo(value lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)

		length := v.Len()
		if length > 0 {
			arr := make([]any, 0, length)
			for i := 1; i <= length; i++ {
				arr = append(arr, b.toGo(v.RawGetInt(i), visited))
			}
			// Only treat it as an array when no extra keys exist.
			extra := false
			v.ForEach(func(key, _ lua.LValue) {
				if n, ok := key.(lua.LNumber); ok {
					if i := int(n); i >= 1 && i <= length && lua.LNumber(i) == n {
						return
					}
				}
				extra = true
			})
			if !extra {
				return arr
			}
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			m[key.String()] = b.toGo(val, visited)
		})
		return m
	default:
		return v.String()
	}
}
