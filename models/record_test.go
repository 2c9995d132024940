package models

import (
	"reflect"
	"testing"
)

func TestCrimeBatchAppend(t *testing.T) {
	var b CrimeBatch
	b.Append(Page{{"id": "1"}, {"id": "2"}})
	b.Append(Page{})
	b.Append(Page{{"id": "3"}})

	if b.Pages != 3 {
		t.Errorf("expected 3 pages, got %d", b.Pages)
	}
	if b.RecordCount != 3 || len(b.Records) != 3 {
		t.Fatalf("expected 3 records, got %d (%d)", b.RecordCount, len(b.Records))
	}
	for i, want := range []string{"1", "2", "3"} {
		if b.Records[i]["id"] != want {
			t.Errorf("record %d: got id %v, want %s", i, b.Records[i]["id"], want)
		}
	}
}

func TestRecordFields(t *testing.T) {
	r := Record{"primary_type": "THEFT", "date": "2025-11-01T00:00:00.000", "arrest": false}
	want := []string{"arrest", "date", "primary_type"}
	if got := r.Fields(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Fields() = %v, want %v", got, want)
	}
}
