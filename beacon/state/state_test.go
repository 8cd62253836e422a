package state

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-bridge-relayer/beacon/merkle"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

var forks = []Fork{Capella, Deneb, Electra}

func root(tag byte, i int) Root {
	var r Root
	r[0] = tag
	binary.LittleEndian.PutUint32(r[1:], uint32(i))
	return r
}

func rootBytes(tag byte, i int) []byte {
	r := root(tag, i)
	return r[:]
}

func testCore(fork Fork) *stateCore {
	p := Minimal
	s := &stateCore{variant: Variant{Fork: fork, Preset: p}}
	s.GenesisTime = 1606824023
	s.GenesisValidatorsRoot = root(0x01, 0)
	s.Slot = 6405
	s.Fork = ForkInfo{PreviousVersion: [4]byte{3}, CurrentVersion: [4]byte{4}, Epoch: 700}
	s.LatestBlockHeader = BeaconBlockHeader{Slot: 6404, ProposerIndex: 2, ParentRoot: root(0x02, 0), BodyRoot: root(0x03, 0)}
	s.BlockRoots = make([]Root, p.SlotsPerHistoricalRoot)
	s.StateRoots = make([]Root, p.SlotsPerHistoricalRoot)
	for i := range s.BlockRoots {
		s.BlockRoots[i] = root(0x10, i)
		s.StateRoots[i] = root(0x11, i)
	}
	s.HistoricalRoots = []Root{root(0x12, 0), root(0x12, 1)}
	s.Eth1Data = Eth1Data{DepositRoot: root(0x13, 0), DepositCount: 9, BlockHash: root(0x14, 0)}
	s.Eth1DataVotes = []Eth1Data{s.Eth1Data}
	s.Eth1DepositIndex = 9
	for i := 0; i < 3; i++ {
		v := Validator{EffectiveBalance: 32e9, ExitEpoch: FarFutureEpoch, WithdrawableEpoch: FarFutureEpoch}
		v.Pubkey[0] = byte(i + 1)
		v.Slashed = i == 2
		s.Validators = append(s.Validators, v)
		s.Balances = append(s.Balances, 32e9+uint64(i))
		s.PreviousEpochParticipation = append(s.PreviousEpochParticipation, 7)
		s.CurrentEpochParticipation = append(s.CurrentEpochParticipation, byte(i))
		s.InactivityScores = append(s.InactivityScores, uint64(i))
	}
	s.RandaoMixes = make([]Root, p.EpochsPerHistoricalVector)
	for i := range s.RandaoMixes {
		s.RandaoMixes[i] = root(0x15, i)
	}
	s.Slashings = make([]uint64, p.EpochsPerSlashingsVector)
	s.Slashings[3] = 1e9
	s.JustificationBits = 0x0f
	s.PreviousJustifiedCheckpoint = Checkpoint{Epoch: 798, Root: root(0x16, 0)}
	s.CurrentJustifiedCheckpoint = Checkpoint{Epoch: 799, Root: root(0x17, 0)}
	s.FinalizedCheckpoint = Checkpoint{Epoch: 798, Root: root(0x18, 0)}
	for _, c := range []*SyncCommittee{&s.CurrentSyncCommittee, &s.NextSyncCommittee} {
		c.Pubkeys = make([]BLSPubkey, p.SyncCommitteeSize)
		for i := range c.Pubkeys {
			c.Pubkeys[i][0] = byte(i)
		}
	}
	s.NextSyncCommittee.AggregatePubkey[1] = 0xff
	h := &ExecutionPayloadHeader{HasBlobGas: fork >= Deneb}
	h.BlockNumber = 17
	h.BlockHash = root(0xaa, 0)
	h.ReceiptsRoot = root(0xab, 0)
	h.ExtraData = []byte("relay")
	h.BaseFeePerGas[0] = 7
	if h.HasBlobGas {
		h.BlobGasUsed = 131072
	}
	s.LatestExecutionPayloadHeader = h
	s.NextWithdrawalIndex = 44
	s.NextWithdrawalValidatorIndex = 1
	s.HistoricalSummaries = []HistoricalSummary{{BlockSummaryRoot: root(0x19, 0), StateSummaryRoot: root(0x1a, 0)}}
	if fork >= Electra {
		s.electra = &ElectraFields{
			DepositRequestsStartIndex: FarFutureEpoch,
			EarliestExitEpoch:         805,
			PendingDeposits:           []PendingDeposit{{Amount: 1e9, Slot: 6000}},
			PendingPartialWithdrawals: []PendingPartialWithdrawal{{ValidatorIndex: 1, Amount: 5}},
			PendingConsolidations:     []PendingConsolidation{{SourceIndex: 0, TargetIndex: 2}},
		}
	}
	return s
}

func encoded(t *testing.T, fork Fork) []byte {
	buf, err := testCore(fork).MarshalSSZ()
	require.NoError(t, err)
	return buf
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, fork := range forks {
		t.Run(fork.String(), func(t *testing.T) {
			buf := encoded(t, fork)
			v := Variant{Fork: fork, Preset: Minimal}

			s1, err := Decode(buf, v)
			require.NoError(t, err)
			s2, err := Decode(buf, v)
			require.NoError(t, err)

			out, err := s1.MarshalSSZ()
			require.NoError(t, err)
			assert.Equal(t, buf, out)

			r1, err := s1.HashTreeRoot()
			require.NoError(t, err)
			r2, err := s2.HashTreeRoot()
			require.NoError(t, err)
			assert.Equal(t, r1, r2)

			want, err := testCore(fork).HashTreeRoot()
			require.NoError(t, err)
			assert.Equal(t, want, r1)

			assert.Equal(t, v, s1.Variant())
			assert.Equal(t, uint64(6405), s1.GetSlot())
			assert.Equal(t, uint64(6404), s1.GetLatestBlockHeader().Slot)
			assert.Len(t, s1.GetBlockRoots(), 64)
			assert.Equal(t, root(0x18, 0), s1.GetFinalizedCheckpoint().Root)
			assert.Equal(t, []byte("relay"), s1.GetExecutionPayloadHeader().ExtraData)
			assert.Equal(t, byte(0xff), s1.GetNextSyncCommittee().AggregatePubkey[1])
		})
	}
}

func TestDecodeReturnsVariantType(t *testing.T) {
	s, err := Decode(encoded(t, Capella), Variant{Fork: Capella, Preset: Minimal})
	require.NoError(t, err)
	assert.IsType(t, &CapellaState{}, s)

	s, err = Decode(encoded(t, Deneb), Variant{Fork: Deneb, Preset: Minimal})
	require.NoError(t, err)
	assert.IsType(t, &DenebState{}, s)

	s, err = Decode(encoded(t, Electra), Variant{Fork: Electra, Preset: Minimal})
	require.NoError(t, err)
	require.IsType(t, &ElectraState{}, s)
	assert.Equal(t, uint64(805), s.(*ElectraState).Electra().EarliestExitEpoch)
	assert.Len(t, s.(*ElectraState).Electra().PendingConsolidations, 1)
}

func TestWrongVariantNeverMatches(t *testing.T) {
	for _, actual := range forks {
		buf := encoded(t, actual)
		want, err := testCore(actual).HashTreeRoot()
		require.NoError(t, err)

		for _, fork := range forks {
			for _, preset := range []Preset{Minimal, Mainnet} {
				v := Variant{Fork: fork, Preset: preset}
				if fork == actual && preset.Name == Minimal.Name {
					continue
				}
				s, err := Decode(buf, v)
				if err != nil {
					assert.True(t, errors.Is(err, relayerr.ErrDecode), "%s as %s: %v", actual, v, err)
					continue
				}
				got, err := s.HashTreeRoot()
				require.NoError(t, err)
				assert.NotEqual(t, want, got, "%s decoded as %s", actual, v)
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	v := Variant{Fork: Capella, Preset: Minimal}
	buf := encoded(t, Capella)
	fixed := fixedSize(v)

	cases := map[string]func([]byte) []byte{
		"truncated fixed part": func(b []byte) []byte { return b[:fixed-1] },
		"truncated list":       func(b []byte) []byte { return b[:len(b)-1] },
		"first offset": func(b []byte) []byte {
			at := 8 + 32 + 8 + forkInfoSize + beaconBlockHeaderSize + 64*int(Minimal.SlotsPerHistoricalRoot)
			binary.LittleEndian.PutUint32(b[at:], uint32(fixed+1))
			return b
		},
		"justification bits": func(b []byte) []byte {
			at := fixed - 4 - 8 - 8 - 4 - 2*syncCommitteeSize(Minimal) - 4 - 3*checkpointSize - 1
			b[at] = 0x1f
			return b
		},
		"validator slashed flag": func(b []byte) []byte {
			at := 8 + 32 + 8 + forkInfoSize + beaconBlockHeaderSize + 64*int(Minimal.SlotsPerHistoricalRoot) + 4 + eth1DataSize + 4 + 8
			off := binary.LittleEndian.Uint32(b[at:])
			b[off+48+32+8] = 2
			return b
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			b := corrupt(append([]byte(nil), buf...))
			_, err := Decode(b, v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, relayerr.ErrDecode))
		})
	}

	_, err := Decode(buf, Variant{Fork: Capella})
	assert.True(t, errors.Is(err, relayerr.ErrDecode))
}

func TestTreeMatchesHashTreeRoot(t *testing.T) {
	for _, fork := range forks {
		s := wrap(testCore(fork))
		want, err := s.HashTreeRoot()
		require.NoError(t, err)
		tree, err := s.GetTree()
		require.NoError(t, err)
		assert.Equal(t, want[:], tree.Hash(), fork.String())

		again, err := s.GetTree()
		require.NoError(t, err)
		assert.Same(t, tree, again)
	}
}

// Roots of testCore computed by independent SSZ implementations.
var goldenStateRoots = map[Fork]string{
	Capella: "0xc71fca5867417b606476a567016935a0e12197727a536928d86772b77c3039bd",
	Deneb:   "0x3e55a86de46b6aaf2edcd9297c3f34f84982bf73e7ec28f7f8395b9fe6fffb27",
	Electra: "0x0a74ef5068db90ef28eee27336329692ce8dc72cb6f9b18dcd2fca347430f410",
}

func TestGoldenStateRoots(t *testing.T) {
	for _, fork := range forks {
		t.Run(fork.String(), func(t *testing.T) {
			s := wrap(testCore(fork))
			got, err := s.HashTreeRoot()
			require.NoError(t, err)
			assert.Equal(t, goldenStateRoots[fork], hexutil.Encode(got[:]))

			tree, err := s.GetTree()
			require.NoError(t, err)
			assert.Equal(t, goldenStateRoots[fork], hexutil.Encode(tree.Hash()))
		})
	}
}

func TestProofs(t *testing.T) {
	finalizedRoot := map[Fork]uint64{Capella: 105, Deneb: 105, Electra: 169}
	blockHash := map[Fork]uint64{Capella: 908, Deneb: 1804, Electra: 2828}

	for _, fork := range forks {
		t.Run(fork.String(), func(t *testing.T) {
			s := wrap(testCore(fork))
			stateRoot, err := s.HashTreeRoot()
			require.NoError(t, err)

			p, err := FinalizedRootProof(s)
			require.NoError(t, err)
			assert.Equal(t, finalizedRoot[fork], p.Index)
			assert.Equal(t, s.GetFinalizedCheckpoint().Root[:], p.Leaf)
			assert.True(t, p.Verify(stateRoot[:]))

			p, err = ExecutionBlockHashProof(s)
			require.NoError(t, err)
			assert.Equal(t, blockHash[fork], p.Index)
			assert.Equal(t, rootBytes(0xaa, 0), p.Leaf)
			assert.True(t, p.Verify(stateRoot[:]))

			p, err = ExecutionHeaderProof(s)
			require.NoError(t, err)
			headerRoot, err := s.GetExecutionPayloadHeader().HashTreeRoot()
			require.NoError(t, err)
			assert.Equal(t, headerRoot[:], p.Leaf)
			assert.True(t, merkle.VerifyBranch(p.Leaf, p.Hashes, p.Index, stateRoot[:]))

			p, err = NextSyncCommitteeProof(s)
			require.NoError(t, err)
			committeeRoot, err := hashRoot(s.GetNextSyncCommittee())
			require.NoError(t, err)
			assert.Equal(t, committeeRoot[:], p.Leaf)
			assert.True(t, p.Verify(stateRoot[:]))

			p, err = BlockRootsProof(s)
			require.NoError(t, err)
			assert.True(t, p.Verify(stateRoot[:]))

			p, err = BlockRootProof(s, 6400)
			require.NoError(t, err)
			assert.Equal(t, rootBytes(0x10, 0), p.Leaf)
			assert.True(t, p.Verify(stateRoot[:]))

			p, err = ProveField(s, FieldLatestBlockHeader)
			require.NoError(t, err)
			headerBlockRoot, err := s.GetLatestBlockHeader().HashTreeRoot()
			require.NoError(t, err)
			assert.Equal(t, headerBlockRoot[:], p.Leaf)

			_, err = ProveField(s, "no_such_field")
			assert.Error(t, err)
		})
	}
}

func TestBlockRootAt(t *testing.T) {
	s := wrap(testCore(Deneb))
	r, err := BlockRootAt(s, 6404)
	require.NoError(t, err)
	assert.Equal(t, root(0x10, 6404%64), r)

	_, err = BlockRootAt(s, 6405)
	assert.Error(t, err, "the state's own slot is not in its ring yet")
	_, err = BlockRootAt(s, 6405-65)
	assert.Error(t, err, "overwritten")
	_, err = BlockRootProof(s, 10)
	assert.Error(t, err)
}

func TestGeneralizedIndexTable(t *testing.T) {
	cases := []struct {
		fork  Fork
		field string
		want  uint64
	}{
		{Capella, FieldBlockRoots, 37},
		{Capella, FieldFinalizedCheckpoint, 52},
		{Deneb, FieldNextSyncCommittee, 55},
		{Deneb, FieldLatestExecutionPayloadHeader, 56},
		{Electra, FieldBlockRoots, 69},
		{Electra, FieldFinalizedCheckpoint, 84},
		{Electra, FieldNextSyncCommittee, 87},
		{Electra, FieldPendingConsolidations, 100},
	}
	for _, c := range cases {
		got, err := GeneralizedIndex(c.fork, c.field)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%s %s", c.fork, c.field)
	}
	_, err := GeneralizedIndex(Deneb, FieldPendingDeposits)
	assert.Error(t, err)

	assert.Len(t, Fields(Capella), 28)
	assert.Len(t, Fields(Electra), 37)
	assert.Equal(t, uint64(105), FinalizedRootGeneralizedIndex(Deneb))
	assert.Equal(t, uint64(1804), ExecutionBlockHashGeneralizedIndex(Deneb))
}

func TestForkSchedule(t *testing.T) {
	s := ForkSchedule{Preset: Mainnet, CapellaEpoch: 194048, DenebEpoch: 269568, ElectraEpoch: 364032}
	require.NoError(t, s.Validate())

	_, err := s.VariantAt(194047)
	assert.Error(t, err)

	v, err := s.VariantAt(194048)
	require.NoError(t, err)
	assert.Equal(t, Capella, v.Fork)

	v, err = s.VariantForSlot(269568 * 32)
	require.NoError(t, err)
	assert.Equal(t, Deneb, v.Fork)
	assert.Equal(t, "deneb/mainnet", v.String())

	v, err = s.VariantAt(400000)
	require.NoError(t, err)
	assert.Equal(t, Electra, v.Fork)

	s.ElectraEpoch = FarFutureEpoch
	v, err = s.VariantAt(400000)
	require.NoError(t, err)
	assert.Equal(t, Deneb, v.Fork)

	assert.Error(t, ForkSchedule{Preset: Mainnet, CapellaEpoch: 10, DenebEpoch: 5}.Validate())

	p, err := PresetByName("Minimal")
	require.NoError(t, err)
	assert.Equal(t, Minimal, p)
	_, err = PresetByName("gnosis")
	assert.Error(t, err)
}

func TestBlockHeaderRoot(t *testing.T) {
	h := BeaconBlockHeader{Slot: 1, ProposerIndex: 2, ParentRoot: root(1, 0), StateRoot: root(2, 0), BodyRoot: root(3, 0)}
	got, err := h.HashTreeRoot()
	require.NoError(t, err)
	tree, err := merkle.FromChunks([][]byte{
		uint64Chunk(1), uint64Chunk(2), h.ParentRoot[:], h.StateRoot[:], h.BodyRoot[:],
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, tree.Hash(), got[:])
}
