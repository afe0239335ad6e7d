package lossless

import "testing"

func TestBuildHuffmanTableTrivialSingleSymbol(t *testing.T) {
	codeLengths := make([]int, 256)
	codeLengths[42] = 1

	table, err := BuildHuffmanTable(HuffmanTableBits, codeLengths)
	if err != nil {
		t.Fatalf("BuildHuffmanTable: %v", err)
	}

	if want := 1 << HuffmanTableBits; len(table) != want {
		t.Fatalf("table size = %d, want %d", len(table), want)
	}
	for i, entry := range table {
		if entry.Value != 42 || entry.Bits != 0 {
			t.Fatalf("table[%d] = {Value:%d, Bits:%d}, want {42, 0}", i, entry.Value, entry.Bits)
		}
	}
}

func TestBuildHuffmanTableTwoEqualLengthSymbols(t *testing.T) {
	table, err := BuildHuffmanTable(HuffmanTableBits, []int{1, 1})
	if err != nil {
		t.Fatalf("BuildHuffmanTable: %v", err)
	}

	for i := 0; i < len(table); i++ {
		want := uint16(i & 1)
		if table[i].Value != want {
			t.Errorf("table[%d].Value = %d, want %d", i, table[i].Value, want)
		}
		if table[i].Bits != 1 {
			t.Errorf("table[%d].Bits = %d, want 1", i, table[i].Bits)
		}
	}
}

func TestBuildHuffmanTableThreeSymbolsDecodeCorrectly(t *testing.T) {
	// Symbol 0: length 1. Symbols 1, 2: length 2 each.
	table, err := BuildHuffmanTable(HuffmanTableBits, []int{1, 2, 2})
	if err != nil {
		t.Fatalf("BuildHuffmanTable: %v", err)
	}

	cases := []struct {
		prefetch uint32
		wantVal  uint16
		wantBits int
	}{
		{0b00000000, 0, 1},
		{0b00000010, 0, 1},
		{0b00000001, 1, 2},
		{0b00000011, 2, 2},
	}
	for _, tc := range cases {
		val, bits := ReadSymbol(table, tc.prefetch)
		if val != tc.wantVal || bits != tc.wantBits {
			t.Errorf("ReadSymbol(0b%08b) = (%d, %d), want (%d, %d)", tc.prefetch, val, bits, tc.wantVal, tc.wantBits)
		}
	}
}

func TestBuildHuffmanTableRejectsDegenerateInput(t *testing.T) {
	cases := []struct {
		name        string
		codeLengths []int
	}{
		{"all zero lengths", make([]int, 10)},
		{"nil input", nil},
		{"length exceeds limit", []int{MaxAllowedCodeLength + 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildHuffmanTable(HuffmanTableBits, tc.codeLengths); err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}

func TestBuildHuffmanTableSpillsIntoSubTables(t *testing.T) {
	// Kraft-complete tree: symbol 0 at length 1, symbols 1-4 at length 3
	// (1/2 + 4/8 == 1). rootBits=2 forces codes longer than root into a
	// second-level sub-table.
	codeLengths := []int{1, 3, 3, 3, 3}

	table, err := BuildHuffmanTable(2, codeLengths)
	if err != nil {
		t.Fatalf("BuildHuffmanTable: %v", err)
	}
	if len(table) == 0 {
		t.Fatal("table should not be empty")
	}

	val, bits := ReadSymbol(table, 0b000)
	if val != 0 || bits != 1 {
		t.Errorf("ReadSymbol for symbol 0 = (%d, %d), want (0, 1)", val, bits)
	}
}

func TestReadSymbolDecodesBothCodewords(t *testing.T) {
	table, err := BuildHuffmanTable(HuffmanTableBits, []int{1, 1})
	if err != nil {
		t.Fatalf("BuildHuffmanTable: %v", err)
	}

	if val, bits := ReadSymbol(table, 0); val != 0 || bits != 1 {
		t.Errorf("ReadSymbol(0) = (%d, %d), want (0, 1)", val, bits)
	}
	if val, bits := ReadSymbol(table, 1); val != 1 || bits != 1 {
		t.Errorf("ReadSymbol(1) = (%d, %d), want (1, 1)", val, bits)
	}
}

func TestNextCanonicalKeyCyclesThroughReversedCounter(t *testing.T) {
	// Each step reverses the low 3 bits, increments, and reverses back —
	// i.e. it walks a bit-reversed counter: 0 -> 4 -> 2 -> 6 -> ...
	key := nextCanonicalKey(0, 3)
	if key != 4 {
		t.Errorf("nextCanonicalKey(0, 3) = %d, want 4", key)
	}
	key = nextCanonicalKey(key, 3)
	if key != 2 {
		t.Errorf("nextCanonicalKey(4, 3) = %d, want 2", key)
	}
	key = nextCanonicalKey(key, 3)
	if key != 6 {
		t.Errorf("nextCanonicalKey(2, 3) = %d, want 6", key)
	}
}

func TestBuildHuffmanTableScratchReusesSlab(t *testing.T) {
	var scratch HuffmanTableScratch
	table1, err := BuildHuffmanTableScratch(HuffmanTableBits, []int{1, 1}, &scratch)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if val, bits := ReadSymbol(table1, 1); val != 1 || bits != 1 {
		t.Errorf("ReadSymbol(1) on first table = (%d, %d), want (1, 1)", val, bits)
	}

	table2, err := BuildHuffmanTableScratch(HuffmanTableBits, []int{1, 2, 2}, &scratch)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if val, bits := ReadSymbol(table2, 0); val != 0 || bits != 1 {
		t.Errorf("ReadSymbol(0) on second table = (%d, %d), want (0, 1)", val, bits)
	}

	// The first table must stay valid even though the same scratch was
	// passed to build the second one.
	if val, bits := ReadSymbol(table1, 1); val != 1 || bits != 1 {
		t.Errorf("first table corrupted by second build: ReadSymbol(1) = (%d, %d), want (1, 1)", val, bits)
	}
}
