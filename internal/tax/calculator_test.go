package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezendeng/faturamento/internal/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name              string
		serviceType       models.ServiceType
		gross             decimal.Decimal
		pisCofinsWithheld bool
		wantINSS          decimal.Decimal
		wantISS           decimal.Decimal
		wantUtility       decimal.Decimal
		wantPISCofins     decimal.Decimal
		wantNet           decimal.Decimal
		wantKnown         bool
	}{
		{
			name:          "construction withholds INSS over half the gross",
			serviceType:   models.ServiceConstruction,
			gross:         d("1000"),
			wantINSS:      d("55"),
			wantISS:       d("50"),
			wantUtility:   d("50"),
			wantPISCofins: d("0"),
			wantNet:       d("845.00"),
			wantKnown:     true,
		},
		{
			name:              "construction with PIS/COFINS/CSLL withheld",
			serviceType:       models.ServiceConstruction,
			gross:             d("1000"),
			pisCofinsWithheld: true,
			wantINSS:          d("55"),
			wantISS:           d("50"),
			wantUtility:       d("50"),
			wantPISCofins:     d("46.5"),
			wantNet:           d("798.50"),
			wantKnown:         true,
		},
		{
			name:          "dielectric test withholds INSS over the full gross",
			serviceType:   models.ServiceDielectricTest,
			gross:         d("1000"),
			wantINSS:      d("110"),
			wantISS:       d("50"),
			wantUtility:   d("0"),
			wantPISCofins: d("0"),
			wantNet:       d("840.00"),
			wantKnown:     true,
		},
		{
			name:          "freight has no INSS",
			serviceType:   models.ServiceFreight,
			gross:         d("1000"),
			wantINSS:      d("0"),
			wantISS:       d("50"),
			wantUtility:   d("30"),
			wantPISCofins: d("0"),
			wantNet:       d("920.00"),
			wantKnown:     true,
		},
		{
			name:          "CT-e only has the utility retention",
			serviceType:   models.ServiceFreightCTE,
			gross:         d("1000"),
			wantINSS:      d("0"),
			wantISS:       d("0"),
			wantUtility:   d("30"),
			wantPISCofins: d("0"),
			wantNet:       d("970.00"),
			wantKnown:     true,
		},
		{
			name:          "unknown type gets zero withholdings and is flagged",
			serviceType:   models.ServiceType("CONSULTORIA"),
			gross:         d("1000"),
			wantINSS:      d("0"),
			wantISS:       d("0"),
			wantUtility:   d("0"),
			wantPISCofins: d("0"),
			wantNet:       d("1000.00"),
			wantKnown:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.serviceType, tt.gross, tt.pisCofinsWithheld)

			assert.True(t, got.SocialSecurity.Equal(tt.wantINSS), "INSS = %s, want %s", got.SocialSecurity, tt.wantINSS)
			assert.True(t, got.ServiceTax.Equal(tt.wantISS), "ISS = %s, want %s", got.ServiceTax, tt.wantISS)
			assert.True(t, got.UtilityWithholding.Equal(tt.wantUtility), "utility = %s, want %s", got.UtilityWithholding, tt.wantUtility)
			assert.True(t, got.PISCofinsCSLL.Equal(tt.wantPISCofins), "PIS/COFINS/CSLL = %s, want %s", got.PISCofinsCSLL, tt.wantPISCofins)
			assert.True(t, got.NetAmount.Equal(tt.wantNet), "net = %s, want %s", got.NetAmount, tt.wantNet)
			assert.Equal(t, tt.wantKnown, got.Known)
		})
	}
}

func TestComputeNetEqualsGrossMinusWithholdings(t *testing.T) {
	for _, serviceType := range []models.ServiceType{
		models.ServiceConstruction,
		models.ServiceDielectricTest,
		models.ServiceFreight,
		models.ServiceFreightCTE,
	} {
		for _, gross := range []decimal.Decimal{d("1537.41"), d("82300.99"), d("0.03")} {
			b := Compute(serviceType, gross, true)

			expected := gross.
				Sub(b.SocialSecurity).
				Sub(b.ServiceTax).
				Sub(b.UtilityWithholding).
				Sub(b.PISCofinsCSLL).
				Round(2)

			require.True(t, b.NetAmount.Equal(expected),
				"%s gross %s: net %s, want %s", serviceType, gross, b.NetAmount, expected)
		}
	}
}

func TestComputeRatesExposed(t *testing.T) {
	construction := Compute(models.ServiceConstruction, d("1000"), false)
	assert.True(t, construction.SocialSecurityRate.Equal(d("0.055")))
	assert.True(t, construction.ServiceTaxRate.Equal(d("0.05")))

	dielectric := Compute(models.ServiceDielectricTest, d("1000"), false)
	assert.True(t, dielectric.SocialSecurityRate.Equal(d("0.11")))
}
