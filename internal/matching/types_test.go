package matching

import (
	"testing"
	"time"
)

func TestCanonicalIDs(t *testing.T) {
	if MatchID(1, 2) != "1:2" || MatchID(2, 1) != "1:2" {
		t.Errorf("MatchID not symmetric: %s / %s", MatchID(1, 2), MatchID(2, 1))
	}
	if RoomName(1, 2) != "1_2" || RoomName(2, 1) != "1_2" {
		t.Errorf("RoomName not symmetric: %s / %s", RoomName(1, 2), RoomName(2, 1))
	}

	// Ordering is by decimal string, so "10" sorts before "9".
	if got := MatchID(9, 10); got != "10:9" {
		t.Errorf("MatchID(9, 10) = %q, want 10:9", got)
	}
	if got := RoomName(10, 9); got != "10_9" {
		t.Errorf("RoomName(10, 9) = %q, want 10_9", got)
	}
}

func TestRecordResponses(t *testing.T) {
	now := time.Unix(1000, 0)
	rec := NewRecord(7, 3, now)

	if rec.ID() != "3:7" {
		t.Fatalf("record id = %q", rec.ID())
	}
	if rec.Other(3) != 7 || rec.Other(7) != 3 {
		t.Errorf("Other lookup failed: %d / %d", rec.Other(3), rec.Other(7))
	}
	if rec.Other(99) != 0 {
		t.Errorf("Other for outsider = %d, want 0", rec.Other(99))
	}

	rec.SetResponse(7, ResponseAccept, now.Add(time.Second))
	if rec.ResponseOf(7) != ResponseAccept {
		t.Errorf("response of 7 = %q", rec.ResponseOf(7))
	}
	if rec.ResponseOf(3) != "" {
		t.Errorf("response of 3 = %q, want empty", rec.ResponseOf(3))
	}
	if rec.UpdatedAt != now.Unix()+1 {
		t.Errorf("UpdatedAt = %d", rec.UpdatedAt)
	}
}

func TestCompatible(t *testing.T) {
	me := &Person{ID: 1, Age: 25, Gender: GenderMale}
	them := &Person{ID: 2, Age: 30, Gender: GenderFemale}

	cases := []struct {
		name  string
		mine  Setting
		their Setting
		want  bool
	}{
		{
			"mutual any",
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			true,
		},
		{
			"mutual gender preference",
			Setting{PreferredGender: GenderFemale, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderMale, AgeMin: 18, AgeMax: 40},
			true,
		},
		{
			"their gender outside my preference",
			Setting{PreferredGender: GenderMale, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			false,
		},
		{
			"my gender outside their preference",
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderFemale, AgeMin: 18, AgeMax: 40},
			false,
		},
		{
			"any bypasses gender on one side only",
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderMale, AgeMin: 18, AgeMax: 40},
			true,
		},
		{
			"their age above my max",
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 29},
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			false,
		},
		{
			"my age below their min",
			Setting{PreferredGender: GenderAny, AgeMin: 18, AgeMax: 40},
			Setting{PreferredGender: GenderAny, AgeMin: 26, AgeMax: 40},
			false,
		},
		{
			"bounds are inclusive",
			Setting{PreferredGender: GenderAny, AgeMin: 30, AgeMax: 30},
			Setting{PreferredGender: GenderAny, AgeMin: 25, AgeMax: 25},
			true,
		},
	}

	for _, tc := range cases {
		if got := Compatible(&tc.mine, me, &tc.their, them); got != tc.want {
			t.Errorf("%s: Compatible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPriceTable(t *testing.T) {
	p := PriceTable{Male: 5, Female: 30, Any: 0}

	if p.Price(GenderFemale) != 30 {
		t.Errorf("female price = %d", p.Price(GenderFemale))
	}
	if p.Price(GenderMale) != 5 {
		t.Errorf("male price = %d", p.Price(GenderMale))
	}
	if p.Price(GenderAny) != 0 {
		t.Errorf("any price = %d", p.Price(GenderAny))
	}
}
