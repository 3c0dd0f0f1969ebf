package geotiff

import (
	"strings"
	"testing"
)

func layoutFixture() ([][]tagEntry, [][]int) {
	ifds := [][]tagEntry{
		{
			{tag: tagImageWidth, typ: typeLong, count: 1, data: encLongs([]uint32{1024})},
			{tag: tagTileOffsets, typ: typeLong, count: 4, data: encLongs(make([]uint32, 4))},
		},
		{
			{tag: tagImageWidth, typ: typeLong, count: 1, data: encLongs([]uint32{512})},
		},
	}
	tileLens := [][]int{{100, 101, 102, 103}, {50}}
	return ifds, tileLens
}

func TestPlanLayout(t *testing.T) {
	ifds, tileLens := layoutFixture()

	ifdPos, tileBase, err := planLayout(ifds, tileLens)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}

	if ifdPos[0] != 8 {
		t.Errorf("first IFD at %d, want 8", ifdPos[0])
	}
	if want := ifdPos[0] + 2 + 12*2 + 4; ifdPos[1] != want {
		t.Errorf("second IFD at %d, want %d", ifdPos[1], want)
	}

	// The four-element offsets array does not fit inline and must be
	// placed after the IFD chain.
	if off := ifds[0][1].extOff; off < ifdPos[1] {
		t.Errorf("out-of-line value at %d, before second IFD %d", off, ifdPos[1])
	}

	var prev uint32
	for _, lt := range tileBase {
		for _, off := range lt {
			if off%2 != 0 {
				t.Errorf("tile at odd offset %d", off)
			}
			if off <= prev {
				t.Errorf("tile offset %d not past previous %d", off, prev)
			}
			prev = off
		}
	}
}

func TestPlanLayoutRejectsOversizedOutput(t *testing.T) {
	ifds, _ := layoutFixture()

	// Three compressed tiles of 1.5 GiB put the data area past what a
	// 32-bit offset can address.
	tileLens := [][]int{{3 << 29, 3 << 29, 3 << 29}}

	_, _, err := planLayout(ifds, tileLens)
	if err == nil {
		t.Fatal("expected error for output past 4 GiB")
	}
	if !strings.Contains(err.Error(), "4 GiB") {
		t.Errorf("error %q does not name the classic TIFF limit", err)
	}
}
