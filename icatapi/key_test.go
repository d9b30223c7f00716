package icatapi

import (
	"net/url"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"
)

func TestComputeKey(t *testing.T) {
	reg := MustRegistry("4.3")

	fac := WithAttrs("facility", map[string]interface{}{"name": "ESNF"})
	inv := WithAttrs("investigation", map[string]interface{}{
		"name":    "12100409-ST",
		"visitId": "1.1-P",
		"title":   "Diffraction On A Silly Molecule",
	})
	inv.SetOne("facility", fac)
	ds := WithAttrs("dataset", map[string]interface{}{"name": "e208945"})
	ds.SetOne("investigation", inv)

	t.Run("attr-only-constraint", func(t *testing.T) {
		u := WithAttrs("user", map[string]interface{}{"name": "db/jdoe", "fullName": "J. Doe"})
		key, err := ComputeKey(reg, u, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, key, qt.Equals, "user:name=db%2Fjdoe")
	})
	t.Run("nested-relation-constraint", func(t *testing.T) {
		key, err := ComputeKey(reg, inv, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, key, qt.Equals, "investigation:facility=facility%3Aname%3DESNF/name=12100409-ST/visitId=1.1-P")

		dsKey, err := ComputeKey(reg, ds, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, dsKey, qt.Equals, "dataset:investigation="+url.QueryEscape(key)+"/name=e208945")
	})
	t.Run("deterministic", func(t *testing.T) {
		k1, err := ComputeKey(reg, ds, nil)
		qt.Assert(t, err, qt.IsNil)
		k2, err := ComputeKey(reg, ds, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, k1, qt.Equals, k2)
	})
	t.Run("date-valued-constraint", func(t *testing.T) {
		sh := WithAttrs("shift", map[string]interface{}{
			"startDate": time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC),
			"endDate":   time.Date(2016, 5, 13, 8, 0, 0, 0, time.UTC),
		})
		sh.SetOne("investigation", inv)
		key, err := ComputeKey(reg, sh, nil)
		qt.Assert(t, err, qt.IsNil)
		invKey, _ := ComputeKey(reg, inv, nil)
		qt.Assert(t, key, qt.Equals, "shift:investigation="+url.QueryEscape(invKey)+"/startDate=2016-05-12T08%3A00%3A00Z")
	})
	t.Run("index-alias-wins", func(t *testing.T) {
		idx := NewKeyIndex()
		idx.Register("facility:name=RENAMED", fac)
		key, err := ComputeKey(reg, inv, idx)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, key, qt.Equals, "investigation:facility=facility%3Aname%3DRENAMED/name=12100409-ST/visitId=1.1-P")

		// the computed key is registered too, so the entity resolves
		// round-trip through the index
		got, ok := idx.Lookup(key)
		qt.Assert(t, ok, qt.IsTrue)
		qt.Assert(t, got, qt.Equals, inv)
	})
}

func TestComputeKeyErrors(t *testing.T) {
	reg := MustRegistry("4.3")

	t.Run("unknown-type", func(t *testing.T) {
		_, err := ComputeKey(reg, New("wibble"), nil)
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeUnknownType)
	})
	t.Run("no-constraint", func(t *testing.T) {
		r := WithAttrs("rule", map[string]interface{}{"what": "SELECT o FROM User o", "crudFlags": "R"})
		_, err := ComputeKey(reg, r, nil)
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeAmbiguous)
	})
	t.Run("unset-attr", func(t *testing.T) {
		u := New("user")
		_, err := ComputeKey(reg, u, nil)
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeAmbiguous)
	})
	t.Run("missing-relation-target", func(t *testing.T) {
		ds := WithAttrs("dataset", map[string]interface{}{"name": "e208945"})
		_, err := ComputeKey(reg, ds, nil)
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeAmbiguous)
	})
	t.Run("cyclic-constraint-chain", func(t *testing.T) {
		d := WithAttrs("datafile", map[string]interface{}{"name": "loop.nxs"})
		d.SetOne("dataset", d)
		_, err := ComputeKey(reg, d, nil)
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeAmbiguous)
	})
}

func TestParseKey(t *testing.T) {
	reg := MustRegistry("4.3")

	fac := WithAttrs("facility", map[string]interface{}{"name": "ESNF"})
	inv := WithAttrs("investigation", map[string]interface{}{"name": "12100409-ST", "visitId": "1.1-P"})
	inv.SetOne("facility", fac)
	invKey, err := ComputeKey(reg, inv, nil)
	qt.Assert(t, err, qt.IsNil)

	tag, fields, err := ParseKey(invKey)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, tag, qt.Equals, TypeName("investigation"))
	qt.Assert(t, fields, qt.DeepEquals, []FieldValue{
		{"facility", "facility:name=ESNF"},
		{"name", "12100409-ST"},
		{"visitId", "1.1-P"},
	})

	// a relation field's value is itself a parseable key
	tag, fields, err = ParseKey(fields[0].Value)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, tag, qt.Equals, TypeName("facility"))
	qt.Assert(t, fields, qt.DeepEquals, []FieldValue{{"name", "ESNF"}})
}

func TestParseKeyRejects(t *testing.T) {
	cases := []struct {
		key string
	}{
		{""},
		{"nodelimiter"},
		{":name=x"},
		{"user:"},
		{"user:name"},
		{"user:=x"},
		{"user:name=%zz"},
	}
	for _, c := range cases {
		_, _, err := ParseKey(c.key)
		qt.Check(t, serum.Code(err), qt.Equals, ECodeInvalid, qt.Commentf("key: %q", c.key))
	}
}

func TestKeyIndex(t *testing.T) {
	idx := NewKeyIndex()
	u := WithAttrs("user", map[string]interface{}{"name": "jdoe"})

	_, ok := idx.Lookup("user:name=jdoe")
	qt.Assert(t, ok, qt.IsFalse)

	idx.Register("user:name=jdoe", u)
	idx.Register("user:name=jdoe/ord=2", u)

	got, ok := idx.Lookup("user:name=jdoe/ord=2")
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, got, qt.Equals, u)

	// the first registered alias sticks
	key, ok := idx.KeyFor(u)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, key, qt.Equals, "user:name=jdoe")

	qt.Assert(t, idx.Len(), qt.Equals, 2)
}
