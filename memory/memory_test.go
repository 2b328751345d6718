/*
	dspic-loader
	Copyright (c) 2024 dspic-loader contributors.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testLayout(t *testing.T) *Layout {
	l, err := NewLayout(0x8000, 0x400, []uint32{0xC71F, 0x803F, 0x87B3, 0x310F, 0x330F, 0x0007, 0xC003})
	require.NoError(t, err)
	return l
}

func TestLayout(t *testing.T) {
	l := testLayout(t)
	require.Equal(t, Range{Address: 0, Size: 0x8000}, l.Range(Program))
	require.Equal(t, Range{Address: 0x7FFC00, Size: 0x400}, l.Range(DataEEPROM))
	require.Equal(t, Range{Address: 0xF80000, Size: 0x0E}, l.Range(Configuration))

	testCases := []struct {
		addr uint32
		kind Kind
		ok   bool
	}{
		{0x000000, Program, true},
		{0x007FFE, Program, true},
		{0x008000, 0, false},
		{0x7FFC00, DataEEPROM, true},
		{0x7FFFFE, DataEEPROM, true},
		{0x800000, 0, false},
		{0xF80000, Configuration, true},
		{0xF8000C, Configuration, true},
		{0xF8000E, 0, false},
	}
	for _, tc := range testCases {
		k, ok := l.KindOf(tc.addr)
		require.Equal(t, tc.ok, ok, "address 0x%06X", tc.addr)
		if ok {
			require.Equal(t, tc.kind, k, "address 0x%06X", tc.addr)
		}
	}

	require.Equal(t, uint32(0x803F), l.ConfigMask(0xF80002))
	require.Equal(t, uint32(0x803F), l.WordMask(0xF80002))
	require.Equal(t, uint32(0xFFFFFF), l.WordMask(0x100))
	require.Equal(t, uint32(0xFFFF), l.WordMask(0x7FFC00))
	require.Zero(t, l.WordMask(0x900000))
}

func TestNewLayoutRejectsBadSizes(t *testing.T) {
	_, err := NewLayout(0, 0x400, nil)
	require.Error(t, err)
	_, err = NewLayout(0x8010, 0x400, nil)
	require.Error(t, err)
	_, err = NewLayout(0x8000, 0x410, nil)
	require.Error(t, err)
	_, err = NewLayout(0x8000, 0, nil)
	require.NoError(t, err)
}

func TestKindGeometry(t *testing.T) {
	require.Equal(t, uint32(64), Program.RowSize())
	require.Equal(t, 32, Program.RowWords())
	require.Equal(t, uint32(32), DataEEPROM.RowSize())
	require.Equal(t, 16, DataEEPROM.RowWords())
	require.Equal(t, uint32(2), Configuration.RowSize())
	require.Equal(t, "data EEPROM", DataEEPROM.String())
}

func TestFirmwareImage(t *testing.T) {
	img := NewFirmwareImage(testLayout(t))
	require.True(t, img.Empty())
	require.Equal(t, Undefined, img.Get(0x100))

	require.NoError(t, img.Set(0x100, 0x123456))
	require.Equal(t, uint32(0x123456), img.Get(0x100))
	require.True(t, img.Defined(0x100))
	require.False(t, img.Empty())

	var addrErr *AddressError
	require.ErrorAs(t, img.Set(0x101, 0), &addrErr)
	require.Contains(t, addrErr.Error(), "odd")
	require.ErrorAs(t, img.Set(0x900000, 0), &addrErr)
	require.Contains(t, addrErr.Error(), "0x900000")
	require.Equal(t, Undefined, img.Get(0x900000))

	require.NoError(t, img.SetRow(0x7FFC00, []uint32{1, 2, 3}))
	row := img.Row(0x7FFC00, 4)
	require.Equal(t, []uint32{1, 2, 3, Undefined}, row)

	clone := img.Clone()
	img.ClearRow(0x7FFC00, 3)
	require.Equal(t, Undefined, img.Get(0x7FFC02))
	require.Equal(t, uint32(2), clone.Get(0x7FFC02))
	img.Clear(0x100)
	require.True(t, img.Empty())
}

func TestRowPredicates(t *testing.T) {
	require.True(t, RowUndefined([]uint32{Undefined, Undefined}))
	require.False(t, RowUndefined([]uint32{Undefined, 0}))

	require.True(t, RowErased([]uint32{0xFFFFFF, Undefined}, 0xFFFFFF))
	require.False(t, RowErased([]uint32{0xFFFFFE}, 0xFFFFFF))
	require.True(t, RowErased([]uint32{0x00FFFF}, 0xFFFF))

	require.True(t, RowEqual([]uint32{Undefined, 0x12}, []uint32{0x55, 0xFF000012}, 0xFFFFFF))
	require.False(t, RowEqual([]uint32{0x13}, []uint32{0x12}, 0xFFFFFF))
	require.False(t, RowEqual([]uint32{0x13}, []uint32{0x12, 0x13}, 0xFFFFFF))
}
