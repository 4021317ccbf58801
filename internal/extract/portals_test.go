package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"casawatch/internal/monitor"
)

func TestImovirtual_Extract(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<article data-testid="listing-item" data-item-id="imv-1001">
			<a href="/anuncio/t2-campo-de-ourique"><h3>T2 em Campo de Ourique</h3></a>
			<span data-testid="listing-item-price">295.000 €</span>
		</article>
		<article data-testid="listing-item">
			<a href="https://www.imovirtual.com/anuncio/t1-alfama"><h3>T1 em Alfama</h3></a>
			<span>180.000 €</span>
		</article>
	</body></html>`

	listings, err := NewImovirtual().Extract(monitor.PageSnapshot{Body: []byte(html)})
	require.NoError(t, err)
	require.Len(t, listings, 2)

	require.Equal(t, "imv-1001", listings[0].ID)
	require.Equal(t, "https://www.imovirtual.com/anuncio/t2-campo-de-ourique", listings[0].URL)
	require.Equal(t, 295000, listings[0].Price)
	require.Equal(t, "imovirtual.com", listings[0].Site)

	// Second item has no portal id; a stable hash is derived instead.
	require.NotEmpty(t, listings[1].ID)
	require.Equal(t, 180000, listings[1].Price)
}

func TestImovirtual_EmptyBodyIsParseFailure(t *testing.T) {
	t.Parallel()

	_, err := NewImovirtual().Extract(monitor.PageSnapshot{Body: nil})
	var parseErr *monitor.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestCasaSapo_Extract(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<div class="searchItem" data-id="sapo-77">
			<a href="/detalhe/moradia-cascais">
				<span class="searchItemTitle">Moradia isolada em Cascais</span>
			</a>
			<span class="searchItemValue">750.000 €</span>
		</div>
		<div class="searchResultCount">120 resultados</div>
	</body></html>`

	listings, err := NewCasaSapo().Extract(monitor.PageSnapshot{Body: []byte(html)})
	require.NoError(t, err)
	require.Len(t, listings, 1)

	listing := listings[0]
	require.Equal(t, "sapo-77", listing.ID)
	require.Equal(t, "casa.sapo.pt", listing.Site)
	require.Equal(t, "https://casa.sapo.pt/detalhe/moradia-cascais", listing.URL)
	require.Equal(t, "Moradia isolada em Cascais", listing.Title)
	require.Equal(t, 750000, listing.Price)
}

func TestCasaSapo_HiddenPriceParsesToZero(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<div class="searchItem">
			<a href="/detalhe/predio-porto"><span class="searchItemTitle">Prédio no Porto</span></a>
		</div>
	</body></html>`

	listings, err := NewCasaSapo().Extract(monitor.PageSnapshot{Body: []byte(html)})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Zero(t, listings[0].Price)
	require.Equal(t, "Preço não disponível", listings[0].RawPrice)
}
