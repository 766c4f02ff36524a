package dataset

import (
	"errors"
	"strings"
	"testing"
)

func TestReadCSVFieldStates(t *testing.T) {
	input := "id,fname,email,phone\n1,Jane,j@x.com,\n2,NaN, ,555\n"
	ds, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", ds.Len())
	}

	r0 := ds.Record(0)
	if f := r0.Field("fname"); !f.Present() || f.Value != "Jane" {
		t.Fatalf("unexpected fname %+v", f)
	}
	if f := r0.Field("phone"); f.State != FieldBlank {
		t.Fatalf("empty phone should be blank, got %s", f.State)
	}
	if f := r0.Field("cc_number"); f.State != FieldAbsent {
		t.Fatalf("missing column should be absent, got %s", f.State)
	}

	r1 := ds.Record(1)
	if f := r1.Field("fname"); f.State != FieldBlank {
		t.Fatalf("NaN should be blank, got %s", f.State)
	}
	if f := r1.Field("email"); f.State != FieldBlank {
		t.Fatalf("whitespace should be blank, got %s", f.State)
	}
	if r1.Index != 1 {
		t.Fatalf("expected index 1, got %d", r1.Index)
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestNewPadsShortRowsAndStripsBOM(t *testing.T) {
	ds, err := New([]string{"\ufefftext", "extra"}, [][]string{{"hello"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !ds.HasColumn("text") {
		t.Fatalf("BOM should be stripped from first column, got %v", ds.Columns())
	}
	if f := ds.Record(0).Field("extra"); f.State != FieldBlank {
		t.Fatalf("padded cell should be blank, got %s", f.State)
	}
}

func TestNewRejectsDuplicateColumns(t *testing.T) {
	if _, err := New([]string{"a", "a"}, nil); err == nil {
		t.Fatalf("expected duplicate column error")
	}
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "  ", "nan", "NaN", "NULL", "None", "n/a", "NA", "#N/A", "<NA>", " null "} {
		if !IsMissing(v) {
			t.Fatalf("%q should be missing", v)
		}
	}
	for _, v := range []string{"0", "Nancy", "none of them", "Na", "Null", "NONE", "Nan"} {
		if IsMissing(v) {
			t.Fatalf("%q should not be missing", v)
		}
	}
}

func TestReadCSVKeepsNALookalikeNames(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader("fname,lname\nTran,Na\nNA,Null\n"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if f := ds.Record(0).Field("lname"); !f.Present() || f.Value != "Na" {
		t.Fatalf("surname Na should be a value, got %+v", f)
	}
	if f := ds.Record(1).Field("fname"); f.State != FieldBlank {
		t.Fatalf("NA should be blank, got %s", f.State)
	}
	if f := ds.Record(1).Field("lname"); !f.Present() || f.Value != "Null" {
		t.Fatalf("surname Null should be a value, got %+v", f)
	}
}
