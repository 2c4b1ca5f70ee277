// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package abbrev holds the static registries that map Spanish legal siglas
// and well-known norm names to canonical identifiers: short law names,
// BOE-IDs for Spain and CELEX numbers for the EU.
//
// The registry is built once at startup and is read-only afterwards. It is
// the first tier of the validator's resolution cascade and the assistance
// list injected into extractor and resolver prompts.
package abbrev

import (
	"sort"
	"strings"
	"sync"
)

// Entry describes one Spanish sigla or well-known norm.
type Entry struct {
	Sigla string
	// Law is the canonical short reference ("Ley 39/2015", "Código Civil").
	Law string
	// Description is the expanded name used as prompt assistance.
	Description string
	// BOEID is set for norms with a fixed consolidated identifier.
	BOEID string
	// Priority marks the entries always listed first in prompts.
	Priority bool
}

// EUEntry describes one EU sigla with its synthesizable CELEX.
type EUEntry struct {
	Sigla string
	Name  string
	CELEX string
}

// Registry is the read-only sigla registry. Safe for concurrent use after
// construction; all lookups are case-insensitive, and Spanish sigla lookups
// also ignore dots.
type Registry struct {
	once    sync.Once
	entries []Entry
	bySigla map[string]Entry
	byName  map[string]string // normalized name or law → BOE-ID
	known   map[knownKey]string
	eu      map[string]EUEntry
	euOrder []string
}

type knownKey struct {
	kind   string // "ley", "ley organica", "real decreto", "real decreto legislativo"
	number string // "39/2015"
}

// New builds the registry from the embedded tables.
func New() *Registry {
	r := &Registry{}
	r.once.Do(r.build)
	return r
}

func (r *Registry) build() {
	r.entries = []Entry{
		{Sigla: "CE", Law: "Constitución Española", Description: "Constitución Española", BOEID: "BOE-A-1978-31229", Priority: true},
		{Sigla: "CC", Law: "Código Civil", Description: "Código Civil", BOEID: "BOE-A-1889-4763", Priority: true},
		{Sigla: "CP", Law: "Código Penal", Description: "Ley Orgánica 10/1995, del Código Penal", BOEID: "BOE-A-1995-25444", Priority: true},
		{Sigla: "CCom", Law: "Código de Comercio", Description: "Código de Comercio", BOEID: "BOE-A-1885-6627", Priority: true},
		{Sigla: "CCo", Law: "Código de Comercio", Description: "Código de Comercio", BOEID: "BOE-A-1885-6627"},
		{Sigla: "LEC", Law: "Ley 1/2000", Description: "Ley 1/2000, de Enjuiciamiento Civil", BOEID: "BOE-A-2000-323", Priority: true},
		{Sigla: "LECrim", Law: "Ley de Enjuiciamiento Criminal", Description: "Real Decreto de 14 de septiembre de 1882, Ley de Enjuiciamiento Criminal", BOEID: "BOE-A-1882-6036", Priority: true},
		{Sigla: "LJV", Law: "Ley 15/2015", Description: "Ley 15/2015, de la Jurisdicción Voluntaria", BOEID: "BOE-A-2015-7391", Priority: true},
		{Sigla: "LOPJ", Law: "Ley Orgánica 6/1985", Description: "Ley Orgánica 6/1985, del Poder Judicial", BOEID: "BOE-A-1985-12666", Priority: true},
		{Sigla: "LJCA", Law: "Ley 29/1998", Description: "Ley 29/1998, de la Jurisdicción Contencioso-Administrativa", BOEID: "BOE-A-1998-16718", Priority: true},
		{Sigla: "LPAC", Law: "Ley 39/2015", Description: "Ley 39/2015, del Procedimiento Administrativo Común", BOEID: "BOE-A-2015-10565", Priority: true},
		{Sigla: "LRJSP", Law: "Ley 40/2015", Description: "Ley 40/2015, del Régimen Jurídico del Sector Público", BOEID: "BOE-A-2015-10566", Priority: true},
		{Sigla: "LOTC", Law: "Ley Orgánica 2/1979", Description: "Ley Orgánica 2/1979, del Tribunal Constitucional", BOEID: "BOE-A-1979-23709"},
		{Sigla: "ET", Law: "Real Decreto Legislativo 2/2015", Description: "Estatuto de los Trabajadores (RDL 2/2015)", BOEID: "BOE-A-2015-11430"},
		{Sigla: "TRET", Law: "Real Decreto Legislativo 2/2015", Description: "Texto refundido del Estatuto de los Trabajadores", BOEID: "BOE-A-2015-11430"},
		{Sigla: "EBEP", Law: "Ley 7/2007", Description: "Estatuto Básico del Empleado Público", BOEID: "BOE-A-2007-7788"},
		{Sigla: "LBRL", Law: "Ley 7/1985", Description: "Ley 7/1985, de Bases del Régimen Local", BOEID: "BOE-A-1985-5392"},
		{Sigla: "LGP", Law: "Ley 47/2003", Description: "Ley 47/2003, General Presupuestaria", BOEID: "BOE-A-2003-21614"},
		{Sigla: "LGT", Law: "Ley 58/2003", Description: "Ley 58/2003, General Tributaria", BOEID: "BOE-A-2003-23186"},
		{Sigla: "LCSP", Law: "Ley 9/2017", Description: "Ley 9/2017, de Contratos del Sector Público", BOEID: "BOE-A-2017-12902"},
		{Sigla: "LPRL", Law: "Ley 31/1995", Description: "Ley 31/1995, de Prevención de Riesgos Laborales", BOEID: "BOE-A-1995-24292"},
		{Sigla: "LOLS", Law: "Ley Orgánica 11/1985", Description: "Ley Orgánica 11/1985, de Libertad Sindical", BOEID: "BOE-A-1985-16660"},
		{Sigla: "LG", Law: "Ley 50/1997", Description: "Ley 50/1997, del Gobierno", BOEID: "BOE-A-1997-25336"},
		{Sigla: "LRJPAC", Law: "Ley 30/1992", Description: "Ley 30/1992, de Régimen Jurídico de las Administraciones Públicas (derogada)", BOEID: "BOE-A-1992-26318"},
	}

	r.bySigla = make(map[string]Entry, len(r.entries))
	r.byName = make(map[string]string, len(r.entries)*2)
	for _, e := range r.entries {
		r.bySigla[normSigla(e.Sigla)] = e
		if e.BOEID != "" {
			r.byName[normName(e.Description)] = e.BOEID
			r.byName[normName(e.Law)] = e.BOEID
		}
	}
	// Name aliases that show up verbatim in prose.
	for name, id := range map[string]string{
		"constitución":                          "BOE-A-1978-31229",
		"constitución española":                 "BOE-A-1978-31229",
		"código civil":                          "BOE-A-1889-4763",
		"código penal":                          "BOE-A-1995-25444",
		"código de comercio":                    "BOE-A-1885-6627",
		"ley de enjuiciamiento civil":           "BOE-A-2000-323",
		"ley de enjuiciamiento civil de 1881":   "BOE-A-1881-813",
		"ley de enjuiciamiento criminal":        "BOE-A-1882-6036",
		"ley orgánica del poder judicial":       "BOE-A-1985-12666",
		"estatuto de los trabajadores":          "BOE-A-2015-11430",
		"jurisdicción voluntaria":               "BOE-A-2015-7391",
		"ley orgánica 10/1995":                  "BOE-A-1995-25444",
	} {
		r.byName[name] = id
	}

	// High-frequency laws resolvable without any network call.
	r.known = map[knownKey]string{
		{"ley", "39/2015"}: "BOE-A-2015-10565",
		{"ley", "40/2015"}: "BOE-A-2015-10566",
		{"ley", "30/1992"}: "BOE-A-1992-26318",
		{"ley", "1/2000"}:  "BOE-A-2000-323",
		{"ley", "29/1998"}: "BOE-A-1998-16718",
		{"ley", "15/2015"}: "BOE-A-2015-7391",
		{"ley", "6/1997"}:  "BOE-A-1997-8392",
		{"ley", "50/1997"}: "BOE-A-1997-25336",
		{"ley", "47/2003"}: "BOE-A-2003-21614",
		{"ley", "58/2003"}: "BOE-A-2003-23186",
		{"ley", "7/2007"}:  "BOE-A-2007-7788",
		{"ley", "31/1995"}: "BOE-A-1995-24292",
		{"ley", "9/2017"}:  "BOE-A-2017-12902",
		{"ley", "7/1985"}:  "BOE-A-1985-5392",
		{"ley organica", "6/1985"}:  "BOE-A-1985-12666",
		{"ley organica", "2/1979"}:  "BOE-A-1979-23709",
		{"ley organica", "1/1996"}:  "BOE-A-1996-1069",
		{"ley organica", "10/1995"}: "BOE-A-1995-25444",
		{"real decreto", "203/2021"}: "BOE-A-2021-5032",
		{"real decreto legislativo", "2/2015"}: "BOE-A-2015-11430",
		{"real decreto legislativo", "5/2000"}: "BOE-A-2000-15060",
		{"real decreto legislativo", "8/2015"}: "BOE-A-2015-11724",
	}

	r.eu = map[string]EUEntry{
		"RGPD":            {Sigla: "RGPD", Name: "Reglamento (UE) 2016/679, General de Protección de Datos", CELEX: "32016R0679"},
		"GDPR":            {Sigla: "GDPR", Name: "Reglamento (UE) 2016/679, General de Protección de Datos", CELEX: "32016R0679"},
		"EIDAS":           {Sigla: "eIDAS", Name: "Reglamento (UE) 910/2014, de identificación electrónica y servicios de confianza", CELEX: "32014R0910"},
		"DSA":             {Sigla: "DSA", Name: "Reglamento (UE) 2022/2065, de Servicios Digitales", CELEX: "32022R2065"},
		"DMA":             {Sigla: "DMA", Name: "Reglamento (UE) 2022/1925, de Mercados Digitales", CELEX: "32022R1925"},
		"ROMA I":          {Sigla: "Roma I", Name: "Reglamento (CE) 593/2008, sobre la ley aplicable a las obligaciones contractuales", CELEX: "32008R0593"},
		"ROMA II":         {Sigla: "Roma II", Name: "Reglamento (CE) 864/2007, sobre la ley aplicable a las obligaciones extracontractuales", CELEX: "32007R0864"},
		"BRUSELAS I BIS":  {Sigla: "Bruselas I bis", Name: "Reglamento (UE) 1215/2012, de competencia judicial en materia civil y mercantil", CELEX: "32012R1215"},
		"MICA":            {Sigla: "MiCA", Name: "Reglamento (UE) 2023/1114, de mercados de criptoactivos", CELEX: "32023R1114"},
		"NIS2":            {Sigla: "NIS2", Name: "Directiva (UE) 2022/2555, de ciberseguridad", CELEX: "32022L2555"},
	}
	r.euOrder = make([]string, 0, len(r.eu))
	for k := range r.eu {
		r.euOrder = append(r.euOrder, k)
	}
	sort.Strings(r.euOrder)
}

// Lookup returns the entry for a Spanish sigla.
func (r *Registry) Lookup(sigla string) (Entry, bool) {
	e, ok := r.bySigla[normSigla(sigla)]
	return e, ok
}

// BOEIDForName resolves a sigla, canonical short name or prose name
// ("Código Civil", "ley 39/2015") directly to a BOE-ID. First tier of the
// validator cascade.
func (r *Registry) BOEIDForName(name string) (string, bool) {
	if e, ok := r.Lookup(name); ok && e.BOEID != "" {
		return e.BOEID, true
	}
	id, ok := r.byName[normName(name)]
	return id, ok
}

// BOEIDForNumber resolves a (kind, number/year) pair against the embedded
// high-frequency table. Second tier of the validator cascade. Kind matching
// tolerates accents and common abbreviations (RD, RDL, LO).
func (r *Registry) BOEIDForNumber(kind, number string) (string, bool) {
	id, ok := r.known[knownKey{normKind(kind), strings.TrimSpace(number)}]
	return id, ok
}

// LookupEU returns the EU entry for a European sigla.
func (r *Registry) LookupEU(sigla string) (EUEntry, bool) {
	e, ok := r.eu[normEUSigla(sigla)]
	return e, ok
}

// IsEUSigla reports whether the text is a known EU sigla.
func (r *Registry) IsEUSigla(text string) bool {
	_, ok := r.eu[normEUSigla(text)]
	return ok
}

// Entries returns the Spanish entries, priority entries first. The slice is
// a copy; callers may not mutate registry state.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority && !out[j].Priority
	})
	return out
}

// EUEntries returns the EU entries in deterministic order.
func (r *Registry) EUEntries() []EUEntry {
	out := make([]EUEntry, 0, len(r.euOrder))
	for _, k := range r.euOrder {
		out = append(out, r.eu[k])
	}
	return out
}

// PromptAssistance renders up to max siglas as a prompt block. The block is
// assistance only — prompts instruct the model to reason, not substitute.
func (r *Registry) PromptAssistance(max int) string {
	entries := r.Entries()
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	var b strings.Builder
	b.WriteString("SIGLAS LEGALES CONOCIDAS (solo como ayuda):\n")
	for _, e := range entries {
		if e.BOEID != "" {
			b.WriteString("- " + e.Sigla + " → " + e.Description + " (BOE: " + e.BOEID + ")\n")
		} else {
			b.WriteString("- " + e.Sigla + " → " + e.Description + "\n")
		}
	}
	return b.String()
}

func normSigla(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ".", ""))
}

func normName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normEUSigla(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func normKind(kind string) string {
	k := strings.Join(strings.Fields(strings.ToLower(kind)), " ")
	k = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u").Replace(k)
	switch k {
	case "rd", "real decreto":
		return "real decreto"
	case "rdl", "real decreto legislativo":
		return "real decreto legislativo"
	case "lo", "ley organica":
		return "ley organica"
	case "ley":
		return "ley"
	}
	return k
}
