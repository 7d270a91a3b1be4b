package main

// Derives deposit addresses from the configured master seed without
// touching the database, useful for verifying a seed backup or
// cross-checking an invoice's address out of band.
import (
	"flag"
	"fmt"
	"log"

	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/keywallet"
	"github.com/getAlby/sweephub.go/lib/secrets"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	family := flag.String("family", common.AssetFamilyNative, "asset family to derive for (native|token)")
	index := flag.Uint64("index", 0, "derivation index")
	count := flag.Uint64("count", 1, "number of consecutive indices to derive")
	flag.Parse()

	// only the seed variables are needed here, the full server config is not
	var seedCfg struct {
		SeedMnemonic string `envconfig:"SEED_MNEMONIC"`
		SeedHex      string `envconfig:"SEED_HEX"`
	}
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", &seedCfg)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	seed, err := secrets.LoadSeed(&service.Config{SeedMnemonic: seedCfg.SeedMnemonic, SeedHex: seedCfg.SeedHex})
	if err != nil {
		log.Fatalf("Error loading master seed: %v", err)
	}
	wallet, err := keywallet.New(seed)
	if err != nil {
		log.Fatalf("Error initializing key wallet: %v", err)
	}

	for i := *index; i < *index+*count; i++ {
		var address, path string
		switch *family {
		case common.AssetFamilyNative:
			address, _, err = wallet.DeriveNative(i)
			path = keywallet.NativePath(i)
		case common.AssetFamilyToken:
			address, _, err = wallet.DeriveToken(i)
			path = keywallet.TokenPath(i)
		default:
			log.Fatalf("Unsupported asset family %q", *family)
		}
		if err != nil {
			log.Fatalf("Error deriving index %d: %v", i, err)
		}
		fmt.Printf("%s\t%s\n", path, address)
	}
}
