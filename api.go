package symtest

import "fmt"

// Well-known symbols exported by instrumented targets.
const (
	// APISymbol names the primitive descriptor table.
	APISymbol = "SymTest_API"

	// TestListSymbol names the head pointer of the intrusive list of
	// registered test cases.
	TestListSymbol = "SymTest_LastTestInfo"
)

// API holds the resolved primitive descriptor table of a target. The first
// two slots carry the bounds of the input buffer; the rest are the addresses
// of the test primitives, in table order.
type API struct {
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

// apiSlots maps table order to the struct fields, for reading and
// validation. Slot names match the target-side primitive names.
func (a *API) apiSlots() []struct {
	name string
	p    *uint64
} {
	return []struct {
		name string
		p    *uint64
	}{
		{"InputBegin", &a.InputBegin},
		{"InputEnd", &a.InputEnd},
		{"IsSymbolicUInt", &a.IsSymbolicUInt},
		{"Assume", &a.Assume},
		{"Pass", &a.Pass},
		{"Fail", &a.Fail},
		{"SoftFail", &a.SoftFail},
		{"Abandon", &a.Abandon},
		{"Log", &a.Log},
		{"StreamInt", &a.StreamInt},
		{"StreamFloat", &a.StreamFloat},
		{"StreamString", &a.StreamString},
		{"LogStream", &a.LogStream},
	}
}

// ResolveAPI locates the descriptor table in the target and reads every
// slot. All slots must be present and concrete; a zero slot means the
// target was built without the matching primitive and the whole target is
// rejected.
func ResolveAPI(eng Engine) (*API, error) {
	base, err := eng.LookupSymbol(APISymbol)
	if err != nil {
		return nil, setupErrorf("cannot locate %s: %v", APISymbol, err)
	}

	p := eng.InitialPath()
	width := p.PointerWidth()
	size := uint64(width / 8)

	api := &API{}
	addr := base
	for _, slot := range api.apiSlots() {
		expr, err := p.ReadMemory(addr, width)
		if err != nil {
			return nil, setupErrorf("cannot read %s slot %s: %v", APISymbol, slot.name, err)
		}
		c, ok := expr.(*ConstantExpr)
		if !ok {
			return nil, setupErrorf("%s slot %s is not concrete", APISymbol, slot.name)
		}
		if c.Value == 0 {
			return nil, setupErrorf("%s slot %s is unset", APISymbol, slot.name)
		}
		*slot.p = c.Value
		addr += size
	}

	if api.InputEnd < api.InputBegin {
		return nil, setupErrorf("input buffer bounds are inverted: [%#x, %#x)", api.InputBegin, api.InputEnd)
	}
	return api, nil
}

// TestCase is one registered unit test of the target.
type TestCase struct {
	Name  string
	Entry uint64
}

// DiscoverTests walks the target's intrusive list of test records, newest
// first, and returns the cases in registration order. Each record holds a
// pointer to the previously registered record, the test entry address, and
// a pointer to the test's name.
func DiscoverTests(eng Engine) ([]TestCase, error) {
	head, err := eng.LookupSymbol(TestListSymbol)
	if err != nil {
		return nil, setupErrorf("cannot locate %s: %v", TestListSymbol, err)
	}

	p := eng.InitialPath()
	width := p.PointerWidth()

	rec, _, err := readConcrete(p, head, width)
	if err != nil {
		return nil, setupErrorf("cannot read %s: %v", TestListSymbol, err)
	}

	var tests []TestCase
	seen := map[uint64]bool{}
	for rec != 0 {
		if seen[rec] {
			return nil, setupErrorf("test record list contains a cycle at %#x", rec)
		}
		seen[rec] = true

		prev, next, err := readConcrete(p, rec, width)
		if err != nil {
			return nil, setupErrorf("cannot read test record at %#x: %v", rec, err)
		}
		entry, next, err := readConcrete(p, next, width)
		if err != nil {
			return nil, setupErrorf("cannot read test record at %#x: %v", rec, err)
		}
		namePtr, _, err := readConcrete(p, next, width)
		if err != nil {
			return nil, setupErrorf("cannot read test record at %#x: %v", rec, err)
		}
		name, err := readCString(p, namePtr)
		if err != nil {
			return nil, setupErrorf("cannot read test name at %#x: %v", namePtr, err)
		}

		tests = append(tests, TestCase{Name: name, Entry: entry})
		rec = prev
	}

	// Records link newest to oldest; report in registration order.
	for i, j := 0, len(tests)-1; i < j; i, j = i+1, j-1 {
		tests[i], tests[j] = tests[j], tests[i]
	}
	return tests, nil
}

// readConcrete reads one pointer-width value at addr and requires it to be
// concrete. It returns the value and the address of the following field.
func readConcrete(p Path, addr uint64, width uint) (value, next uint64, err error) {
	expr, err := p.ReadMemory(addr, width)
	if err != nil {
		return 0, 0, err
	}
	c, ok := expr.(*ConstantExpr)
	if !ok {
		return 0, 0, fmt.Errorf("value at %#x is not concrete", addr)
	}
	return c.Value, addr + uint64(width/8), nil
}
