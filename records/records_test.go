package records

import (
	"testing"

	"github.com/duskwatch/gravastar/wire"
	"github.com/stretchr/testify/assert"
)

func Test_Table_ResolveAAndAAAA(t *testing.T) {
	tbl := New()
	tbl.Load([]Record{
		{Name: "router.lan", Type: "A", Value: "192.168.1.1"},
		{Name: "router.lan", Type: "AAAA", Value: "fe80::1"},
	})

	value, rtype, ok := tbl.Resolve("router.lan", wire.TypeA)
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.1", value)
	assert.Equal(t, uint16(wire.TypeA), rtype)

	value, rtype, ok = tbl.Resolve("router.lan", wire.TypeAAAA)
	assert.True(t, ok)
	assert.Equal(t, "fe80::1", value)
	assert.Equal(t, uint16(wire.TypeAAAA), rtype)
}

func Test_Table_CaseInsensitiveType(t *testing.T) {
	tbl := New()
	tbl.Load([]Record{{Name: "host.lan", Type: "cName", Value: "target.lan"}})

	_, rtype, ok := tbl.Resolve("HOST.LAN", wire.TypeCNAME)
	assert.True(t, ok)
	assert.Equal(t, uint16(wire.TypeCNAME), rtype)
}

func Test_Table_UnsupportedTypeDropped(t *testing.T) {
	tbl := New()
	tbl.Load([]Record{{Name: "host.lan", Type: "SRV", Value: "whatever"}})

	_, _, ok := tbl.Resolve("host.lan", 33) // SRV
	assert.False(t, ok)
}

func Test_Table_PTR_TXT_MX_AcceptedAtLoad(t *testing.T) {
	tbl := New()
	tbl.Load([]Record{
		{Name: "1.1.168.192.in-addr.arpa", Type: "PTR", Value: "host.lan"},
		{Name: "host.lan", Type: "TXT", Value: "hello"},
		{Name: "host.lan", Type: "MX", Value: "mail.lan"},
	})

	_, rtype, ok := tbl.Resolve("1.1.168.192.in-addr.arpa", wire.TypePTR)
	assert.True(t, ok)
	assert.Equal(t, uint16(wire.TypePTR), rtype)
}

func Test_Table_Miss(t *testing.T) {
	tbl := New()
	_, _, ok := tbl.Resolve("nothing.lan", wire.TypeA)
	assert.False(t, ok)
}

func Test_Table_LoadReplacesWholesale(t *testing.T) {
	tbl := New()
	tbl.Load([]Record{{Name: "a.lan", Type: "A", Value: "10.0.0.1"}})
	tbl.Load([]Record{{Name: "b.lan", Type: "A", Value: "10.0.0.2"}})

	_, _, ok := tbl.Resolve("a.lan", wire.TypeA)
	assert.False(t, ok)

	value, _, ok := tbl.Resolve("b.lan", wire.TypeA)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2", value)
}

func Test_TypeName(t *testing.T) {
	assert.Equal(t, "A", TypeName(wire.TypeA))
	assert.Equal(t, "", TypeName(33)) // SRV, unsupported
}
