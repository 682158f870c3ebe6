package cache

import (
	"strconv"
	"time"

	"networth-api/internal/models"
)

const keyPrefix = "rates"

func rateKey(p models.Pair) string {
	return keyPrefix + ":" + p.From + ":" + p.To
}

func historicalKey(p models.Pair, day time.Time) string {
	return rateKey(p) + ":" + models.FormatDate(day)
}

func popularKey(userID int64) string {
	return keyPrefix + ":popular:" + strconv.FormatInt(userID, 10)
}
