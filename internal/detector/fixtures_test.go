package detector

import "swap-detector/internal/solana"

const (
	assetA        = "AssetMintAAAA"
	assetB        = "AssetMintBBBB"
	otherMint     = "OtherMintZZZZ"
	walletAddr    = "WalletUser1111"
	poolAddr      = "PoolAuthority11"
	walletATA     = "WalletTokenAcct"
	poolATA       = "PoolTokenAcct"
	testBlockTime = 1700000000
	poolLamports  = 1_000_000_000_000
	rentLamports  = 2_039_280
	vaultUIAmount = "1000000"
)

func tokenBalance(index int, mint, owner, ui string) solana.TokenBalance {
	return solana.TokenBalance{
		AccountIndex: index,
		Mint:         mint,
		Owner:        owner,
		UITokenAmount: solana.UITokenAmount{
			Decimals:       6,
			UIAmountString: ui,
		},
	}
}

// swapTx builds a wallet <-> pool swap of mint. The pool vault holds more
// than the vault threshold on both sides.
func swapTx(sig, mint, walletPre, walletPost string, lamportsPre, lamportsPost uint64) *solana.Transaction {
	return &solana.Transaction{
		Signature: sig,
		Slot:      100,
		BlockTime: testBlockTime,
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{lamportsPre, poolLamports, rentLamports, rentLamports},
			PostBalances: []uint64{lamportsPost, poolLamports, rentLamports, rentLamports},
			PreTokenBalances: []solana.TokenBalance{
				tokenBalance(2, mint, walletAddr, walletPre),
				tokenBalance(3, mint, poolAddr, vaultUIAmount),
			},
			PostTokenBalances: []solana.TokenBalance{
				tokenBalance(2, mint, walletAddr, walletPost),
				tokenBalance(3, mint, poolAddr, vaultUIAmount),
			},
		},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{walletAddr, poolAddr, walletATA, poolATA},
		},
	}
}

// buyTx: wallet asset 0 -> 50, native 5 SOL -> 3 SOL.
func buyTx(sig, mint string) *solana.Transaction {
	return swapTx(sig, mint, "0", "50", 5_000_000_000, 3_000_000_000)
}

// sellTx: wallet asset 50 -> 0, native 3 SOL -> 5 SOL.
func sellTx(sig, mint string) *solana.Transaction {
	return swapTx(sig, mint, "50", "0", 3_000_000_000, 5_000_000_000)
}

func candidateLogs() []string {
	return []string{
		"Program " + JupiterProgramID + " invoke [1]",
		"Program log: Instruction: Route",
	}
}
