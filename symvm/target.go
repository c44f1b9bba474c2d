package symvm

import "github.com/symexec/symtest"

// TargetAPI holds the addresses of a laid-out primitive table, for driving
// calls from program bodies.
type TargetAPI struct {
	InputBegin uint64
	InputEnd   uint64

	IsSymbolicUInt uint64
	Assume         uint64
	Pass           uint64
	Fail           uint64
	SoftFail       uint64
	Abandon        uint64

	Log          uint64
	StreamInt    uint64
	StreamFloat  uint64
	StreamString uint64
	LogStream    uint64
}

// InstallAPI lays out a complete primitive descriptor table, an input
// buffer of inputLen zeroed bytes and an empty test list, and registers the
// well-known symbols. Primitive addresses carry no-op bodies so programs
// remain runnable with no hooks installed.
func (m *Machine) InstallAPI(inputLen uint64) *TargetAPI {
	noop := func(p *Proc) error { return nil }

	api := &TargetAPI{}
	api.InputBegin = m.Alloc(inputLen)
	api.InputEnd = api.InputBegin + inputLen
	m.WriteBytes(api.InputBegin, make([]byte, inputLen))

	api.IsSymbolicUInt = m.DefineFunc(noop)
	api.Assume = m.DefineFunc(noop)
	api.Pass = m.DefineFunc(noop)
	api.Fail = m.DefineFunc(noop)
	api.SoftFail = m.DefineFunc(noop)
	api.Abandon = m.DefineFunc(noop)
	api.Log = m.DefineFunc(noop)
	api.StreamInt = m.DefineFunc(noop)
	api.StreamFloat = m.DefineFunc(noop)
	api.StreamString = m.DefineFunc(noop)
	api.LogStream = m.DefineFunc(noop)

	slots := []uint64{
		api.InputBegin, api.InputEnd,
		api.IsSymbolicUInt, api.Assume,
		api.Pass, api.Fail, api.SoftFail, api.Abandon,
		api.Log, api.StreamInt, api.StreamFloat, api.StreamString,
		api.LogStream,
	}
	table := m.Alloc(uint64(len(slots)) * 8)
	for i, v := range slots {
		m.WriteUint64(table+uint64(i)*8, v)
	}
	m.DefineSymbol(symtest.APISymbol, table)

	m.testHead = m.Alloc(8)
	m.WriteUint64(m.testHead, 0)
	m.DefineSymbol(symtest.TestListSymbol, m.testHead)

	return api
}

// AddTest registers a test program: an entry body plus a record on the
// intrusive test list. Records link newest to oldest.
func (m *Machine) AddTest(name string, body Body) uint64 {
	entry := m.DefineFunc(body)
	namePtr := m.WriteString(name)

	rec := m.Alloc(24)
	m.WriteUint64(rec, m.lastRec)
	m.WriteUint64(rec+8, entry)
	m.WriteUint64(rec+16, namePtr)

	m.lastRec = rec
	m.WriteUint64(m.testHead, rec)
	return entry
}
