package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/crypto/bcrypt"

	"github.com/plugsmith/plugsmith/internal/plugin/security"
)

// CryptoModule implements the host.crypto API module with basic hashing and
// encryption helpers.
type CryptoModule struct {
	checker *security.PermissionChecker
}

// NewCryptoModule creates a new crypto module.
func NewCryptoModule(checker *security.PermissionChecker) *CryptoModule {
	return &CryptoModule{checker: checker}
}

// Name returns the module name.
func (m *CryptoModule) Name() string {
	return "crypto"
}

// RequiredCapability returns the capability required for this module.
func (m *CryptoModule) RequiredCapability() security.Capability {
	return security.CapabilityCrypto
}

// Register registers the module into the Lua state.
func (m *CryptoModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "sha256", L.NewFunction(m.sha256Hex))
	L.SetField(mod, "hmac", L.NewFunction(m.hmacHex))
	L.SetField(mod, "hash_password", L.NewFunction(m.hashPassword))
	L.SetField(mod, "verify_password", L.NewFunction(m.verifyPassword))
	L.SetField(mod, "random_hex", L.NewFunction(m.randomHex))
	setHostField(L, m.Name(), mod)
	return nil
}

func (m *CryptoModule) check(L *lua.LState) bool {
	if err := m.checker.CheckCapability(security.CapabilityCrypto); err != nil {
		L.RaiseError("%s", MsgPermissionDenied+err.Error())
		return false
	}
	return true
}

// sha256Hex: host.crypto.sha256(data) -> hex digest
func (m *CryptoModule) sha256Hex(L *lua.LState) int {
	if !m.check(L) {
		return 0
	}
	data := L.CheckString(1)
	sum := sha256.Sum256([]byte(data))
	L.Push(lua.LString(hex.EncodeToString(sum[:])))
	return 1
}

// hmacHex: host.crypto.hmac(key, data) -> hex digest (HMAC-SHA256)
func (m *CryptoModule) hmacHex(L *lua.LState) int {
	if !m.check(L) {
		return 0
	}
	key := L.CheckString(1)
	data := L.CheckString(2)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	L.Push(lua.LString(hex.EncodeToString(mac.Sum(nil))))
	return 1
}

// hashPassword: host.crypto.hash_password(password) -> bcrypt hash|nil, err
func (m *CryptoModule) hashPassword(L *lua.LState) int {
	if !m.check(L) {
		return 0
	}
	password := L.CheckString(1)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(hash))
	return 1
}

// verifyPassword: host.crypto.verify_password(hash, password) -> bool
func (m *CryptoModule) verifyPassword(L *lua.LState) int {
	if !m.check(L) {
		return 0
	}
	hash := L.CheckString(1)
	password := L.CheckString(2)
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	L.Push(lua.LBool(err == nil))
	return 1
}

// randomHex: host.crypto.random_hex(n) -> n random bytes hex-encoded
func (m *CryptoModule) randomHex(L *lua.LState) int {
	if !m.check(L) {
		return 0
	}
	n := L.OptInt(1, 16)
	if n <= 0 || n > 1024 {
		L.ArgError(1, "size must be between 1 and 1024")
		return 0
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(hex.EncodeToString(buf)))
	return 1
}
