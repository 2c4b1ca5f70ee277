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

import "fmt"

// wordBlockID converts an article number to the Spanish word-form block id
// used by some consolidated norms (the LOPJ pattern): "a" followed by the
// number written out, e.g. 117 → "acientodiecisiete", 456 →
// "acuatrocientoscincuentayseis". Articles 1–9 use ordinal forms
// ("aprimero" ... "anoveno").
func wordBlockID(n int) (string, error) {
	if n < 0 || n > 999 {
		return "", fmt.Errorf("fetcher: article number %d out of word-form range", n)
	}
	if n == 0 {
		return "acero", nil
	}
	if n < 10 {
		ordinals := []string{"", "primero", "segundo", "tercero", "cuarto",
			"quinto", "sexto", "septimo", "octavo", "noveno"}
		return "a" + ordinals[n], nil
	}
	return "a" + numberWords(n), nil
}

var (
	units = []string{"", "uno", "dos", "tres", "cuatro", "cinco",
		"seis", "siete", "ocho", "nueve"}
	teens = []string{"diez", "once", "doce", "trece", "catorce", "quince",
		"dieciséis", "diecisiete", "dieciocho", "diecinueve"}
	tens = []string{"", "", "veint", "treinta", "cuarenta", "cincuenta",
		"sesenta", "setenta", "ochenta", "noventa"}
	hundreds = []string{"", "ciento", "doscientos", "trescientos",
		"cuatrocientos", "quinientos", "seiscientos", "setecientos",
		"ochocientos", "novecientos"}
)

func numberWords(n int) string {
	var out string

	if h := n / 100; h > 0 {
		if n == 100 {
			return "cien"
		}
		out = hundreds[h]
	}

	rest := n % 100
	switch {
	case rest == 0:
	case rest < 10:
		out += units[rest]
	case rest < 20:
		out += teens[rest-10]
	case rest < 30:
		if rest == 20 {
			out += "veinte"
		} else {
			out += tens[2] + "i" + units[rest%10]
		}
	default:
		out += tens[rest/10]
		if u := rest % 10; u > 0 {
			out += "y" + units[u]
		}
	}
	return out
}
