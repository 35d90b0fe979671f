package compose

import "testing"

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"250", 250, true},
		{"250k", 250000, true},
		{"250 bin", 250000, true},
		{"₺500", 500, true},
		{"500 TL", 500, true},
		{"$300", 300, true},
		{"1.250", 1250, true},
		{"1.250,50", 1250.50, true},
		{"1250.50", 1250.50, true},
		{"12,5", 12.5, true},
		{"fiyat yok", 0, false},
		{"", 0, false},
		{"0", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParsePrice(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("ParsePrice(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLooksLikeBarePrice(t *testing.T) {
	for _, in := range []string{"250", "250k", "₺500", "500 TL", "1.250,50"} {
		if !LooksLikeBarePrice(in) {
			t.Fatalf("expected bare price: %q", in)
		}
	}
	for _, in := range []string{"iPhone 250 TL olsun", "çok güzel", ""} {
		if LooksLikeBarePrice(in) {
			t.Fatalf("not a bare price: %q", in)
		}
	}
}

func TestNormalizeCategory(t *testing.T) {
	allowed := []string{"Elektronik", "Ev & Yaşam", "Otomotiv", "Diğer"}
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Elektronik", "Elektronik", true},
		{"elektronik", "Elektronik", true},
		{"telefon", "Elektronik", true},
		{"mobilya", "Ev & Yaşam", true},
		{"araba", "Otomotiv", true},
		{"bilinmeyen şey", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeCategory(tc.in, allowed)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizeCategory(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestValidTitleRejectsFlowCommands(t *testing.T) {
	if ValidTitle("yayınla") {
		t.Fatal("flow command accepted as title")
	}
	if ValidTitle("ab") {
		t.Fatal("too-short title accepted")
	}
	if !ValidTitle("iPhone 13") {
		t.Fatal("valid title rejected")
	}
}

func TestParseFieldEdit(t *testing.T) {
	field, value, ok := ParseFieldEdit("fiyat: 500")
	if !ok || field != "price" || value != "500" {
		t.Fatalf("field edit: %q %q %v", field, value, ok)
	}
	field, value, ok = ParseFieldEdit("title: iPhone 13 Pro")
	if !ok || field != "title" || value != "iPhone 13 Pro" {
		t.Fatalf("field edit: %q %q %v", field, value, ok)
	}
	if _, _, ok := ParseFieldEdit("saat: 5"); ok {
		t.Fatal("unknown field accepted")
	}
	if _, _, ok := ParseFieldEdit("hiç iki nokta yok"); ok {
		t.Fatal("no-colon text accepted")
	}
}
