//go:build !no_automation

package automation

import (
	"time"

	"espnow-lamp/internal/node"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxHandlersPerScript = 100
	scriptSource         = "script"
)

// registerLampModule registers the `lamp` global table in a Lua state.
func registerLampModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":        func(L *lua.LState) int { return lampOn(L, vm) },
		"name":      func(L *lua.LState) int { return lampName(L, e) },
		"level":     func(L *lua.LState) int { return lampLevel(L, e) },
		"bound":     func(L *lua.LState) int { return lampBound(L, e) },
		"state":     func(L *lua.LState) int { return lampState(L, e) },
		"set_level": func(L *lua.LState) int { return lampSetLevel(L, e) },
		"toggle":    func(L *lua.LState) int { return lampGesture(L, e, node.GestureSingleClick) },
		"bind":      func(L *lua.LState) int { return lampGesture(L, e, node.GestureDoubleClick) },
		"ramp":      func(L *lua.LState) int { return lampGesture(L, e, node.GestureLongHoldTick) },
		"after":     func(L *lua.LState) int { return lampAfter(L, vm, e) },
		"log":       func(L *lua.LState) int { return lampLog(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("lamp", mod)
}

// lamp.on(type, [filter], callback)
//
// type is a node event type or "*". filter may carry `source` and `reason`.
func lampOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	switch L.GetTop() {
	case 2:
		h.fn = L.CheckFunction(2)
	default:
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := filter.RawGetString("source"); v != lua.LNil {
			h.source = v.String()
		}
		if v := filter.RawGetString("reason"); v != lua.LNil {
			h.reason = v.String()
		}
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

func lampName(L *lua.LState, e *Engine) int {
	L.Push(lua.LString(e.lamp.State().Name))
	return 1
}

func lampLevel(L *lua.LState, e *Engine) int {
	L.Push(lua.LNumber(e.lamp.State().Level))
	return 1
}

func lampBound(L *lua.LState, e *Engine) int {
	L.Push(lua.LBool(e.lamp.State().Bound))
	return 1
}

// lamp.state() returns {name, level, direction, status, bound}.
func lampState(L *lua.LState, e *Engine) int {
	st := e.lamp.State()
	t := L.NewTable()
	t.RawSetString("name", lua.LString(st.Name))
	t.RawSetString("level", lua.LNumber(st.Level))
	t.RawSetString("direction", lua.LString(st.Direction))
	t.RawSetString("status", lua.LString(st.Status.String()))
	t.RawSetString("bound", lua.LBool(st.Bound))
	L.Push(t)
	return 1
}

// lamp.set_level(n) returns the applied (clamped) level.
func lampSetLevel(L *lua.LState, e *Engine) int {
	level := L.CheckInt(1)
	L.Push(lua.LNumber(e.lamp.SetLevel(level, scriptSource)))
	return 1
}

// lamp.toggle(), lamp.bind(), lamp.ramp() act as the matching button gesture.
func lampGesture(L *lua.LState, e *Engine, kind node.GestureKind) int {
	e.lamp.HandleGesture(node.Gesture{Kind: kind, Source: scriptSource})
	return 0
}

// lamp.after(seconds, callback) runs callback on the script's VM later.
func lampAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full", "id", vm.id)
		}
	}()
	return 0
}

// lamp.log(msg)
func lampLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}
