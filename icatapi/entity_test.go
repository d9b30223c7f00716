package icatapi

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"
)

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		in      interface{}
		expect  interface{}
		errCode string
	}{
		{"hello", "hello", ""},
		{true, true, ""},
		{int(7), int64(7), ""},
		{int32(7), int64(7), ""},
		{uint16(7), int64(7), ""},
		{int64(7), int64(7), ""},
		{float32(0.5), float64(0.5), ""},
		{float64(0.25), float64(0.25), ""},
		{time.Date(2020, 2, 2, 2, 2, 2, 0, time.UTC), time.Date(2020, 2, 2, 2, 2, 2, 0, time.UTC), ""},
		{[]string{"no"}, nil, ECodeInvalid},
		{map[string]string{}, nil, ECodeInvalid},
		{nil, nil, ECodeInvalid},
	}
	for _, c := range cases {
		got, err := NormalizeValue(c.in)
		if c.errCode != "" {
			qt.Check(t, serum.Code(err), qt.Equals, c.errCode, qt.Commentf("in: %#v", c.in))
			continue
		}
		qt.Check(t, err, qt.IsNil)
		qt.Check(t, got, qt.Equals, c.expect, qt.Commentf("in: %#v", c.in))
	}
}

func TestFormatValue(t *testing.T) {
	qt.Check(t, FormatValue("x y"), qt.Equals, "x y")
	qt.Check(t, FormatValue(int64(-3)), qt.Equals, "-3")
	qt.Check(t, FormatValue(true), qt.Equals, "true")
	qt.Check(t, FormatValue(2.5), qt.Equals, "2.5")
	qt.Check(t, FormatValue(time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC)), qt.Equals, "2016-05-12T08:00:00Z")
}

func TestParseTime(t *testing.T) {
	t.Run("offsets-preserved", func(t *testing.T) {
		got, err := ParseTime("2016-05-12T10:00:00+02:00")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, got.UTC(), qt.Equals, time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC))
	})
	t.Run("subsecond", func(t *testing.T) {
		got, err := ParseTime("2016-05-12T08:00:00.25Z")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, got, qt.Equals, time.Date(2016, 5, 12, 8, 0, 0, 250000000, time.UTC))
	})
	t.Run("rejects-garbage", func(t *testing.T) {
		_, err := ParseTime("12/05/2016")
		qt.Assert(t, serum.Code(err), qt.Equals, ECodeInvalid)
	})
}

func TestEntityBuilders(t *testing.T) {
	fac := WithAttrs("facility", map[string]interface{}{"name": "ESNF", "daysUntilRelease": 1095})
	qt.Assert(t, fac.Attrs["daysUntilRelease"], qt.Equals, int64(1095))
	qt.Assert(t, fac.Persisted(), qt.IsFalse)

	inv := New("investigation").SetOne("facility", fac)
	qt.Assert(t, inv.ToOne["facility"], qt.Equals, fac)
	inv.SetOne("facility", nil)
	_, ok := inv.ToOne["facility"]
	qt.Assert(t, ok, qt.IsFalse)

	ds := New("dataset")
	inv.AddChild("datasets", ds)
	qt.Assert(t, inv.ToMany["datasets"], qt.DeepEquals, []*Entity{ds})

	fac.ID = 42
	qt.Assert(t, fac.Persisted(), qt.IsTrue)
}
