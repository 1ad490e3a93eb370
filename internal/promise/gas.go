package promise

import "fmt"

// Gas is the prepaid execution budget of a call.
type Gas uint64

// TGas is one tera-gas.
const TGas Gas = 1_000_000_000_000

func (g Gas) String() string {
	if g%TGas == 0 {
		return fmt.Sprintf("%dTgas", uint64(g/TGas))
	}
	return fmt.Sprintf("%dgas", uint64(g))
}
