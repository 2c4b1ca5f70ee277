// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import "testing"

func TestWordBlockID(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "acero"},
		{1, "aprimero"},
		{5, "aquinto"},
		{9, "anoveno"},
		{10, "adiez"},
		{16, "adieciséis"},
		{17, "adiecisiete"},
		{20, "aveinte"},
		{21, "aveintiuno"},
		{25, "aveinticinco"},
		{30, "atreinta"},
		{31, "atreintayuno"},
		{47, "acuarentaysiete"},
		{100, "acien"},
		{101, "acientouno"},
		{117, "acientodiecisiete"},
		{125, "acientoveinticinco"},
		{200, "adoscientos"},
		{456, "acuatrocientoscincuentayseis"},
		{999, "anovecientosnoventaynueve"},
	}

	for _, tc := range cases {
		got, err := wordBlockID(tc.n)
		if err != nil {
			t.Fatalf("wordBlockID(%d): %v", tc.n, err)
		}
		if got != tc.want {
			t.Errorf("wordBlockID(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestWordBlockID_OutOfRange(t *testing.T) {
	for _, n := range []int{-1, 1000, 5000} {
		if _, err := wordBlockID(n); err == nil {
			t.Errorf("wordBlockID(%d) should fail", n)
		}
	}
}
