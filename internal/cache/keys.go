package cache

import "fmt"

const keyPrefix = "unibus:"

func keyPosition(busID string) string {
	return fmt.Sprintf("position:%s", busID)
}

const keyPositionPattern = "position:*"
